package whatsapp

import (
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/GladstoneOG/wabot/pkg/logx"
)

// waLogger routes whatsmeow's printf-style logging into logx.
type waLogger struct {
	log logx.Logger
}

func newWALogger(log logx.Logger, module string) waLog.Logger {
	return waLogger{log: log.With(logx.String("wa_module", module))}
}

func (l waLogger) Debugf(msg string, args ...any) { l.log.Logf(logx.LevelDebug, msg, args...) }
func (l waLogger) Infof(msg string, args ...any)  { l.log.Logf(logx.LevelInfo, msg, args...) }
func (l waLogger) Warnf(msg string, args ...any)  { l.log.Logf(logx.LevelWarn, msg, args...) }
func (l waLogger) Errorf(msg string, args ...any) { l.log.Logf(logx.LevelError, msg, args...) }

func (l waLogger) Sub(module string) waLog.Logger {
	return waLogger{log: l.log.With(logx.String("wa_sub", module))}
}
