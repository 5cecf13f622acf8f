package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/GladstoneOG/wabot/internal/config"
	"github.com/GladstoneOG/wabot/internal/opsnotify"
	"github.com/GladstoneOG/wabot/internal/transport"
	"github.com/GladstoneOG/wabot/internal/transport/dryrun"
	"github.com/GladstoneOG/wabot/internal/transport/whatsapp"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Ops: logx.OpsConfig{
			Enabled:    cfg.Logging.Ops.Enabled,
			MinLevel:   cfg.Logging.Ops.MinLevel,
			RatePerSec: cfg.Logging.Ops.RatePerSec,
		},
	}
}

// newTelegram returns nil when no token is configured.
func newTelegram(cfg *config.Config) (*opsnotify.Telegram, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, nil
	}
	if cfg.Telegram.ChatID == 0 {
		return nil, fmt.Errorf("telegram.chat_id is required when telegram.token is set")
	}
	return opsnotify.NewTelegram(opsnotify.TelegramConfig{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
	})
}

func newDialer(ctx context.Context, cfg *config.Config, log logx.Logger) (transport.Dialer, error) {
	switch cfg.WhatsApp.Driver {
	case "dryrun":
		log.Warn("whatsapp.driver=dryrun: messages are logged, not sent")
		return dryrun.NewDialer(log), nil
	case "whatsmeow":
		return whatsapp.NewDialer(ctx, whatsapp.Config{
			StorePath: cfg.WhatsApp.StorePath,
			OSName:    cfg.WhatsApp.OSName,
		}, log)
	default:
		return nil, fmt.Errorf("unknown whatsapp.driver: %s", cfg.WhatsApp.Driver)
	}
}
