package config

import (
	"reflect"
	"strings"

	"github.com/GladstoneOG/wabot/pkg/logx"
)

// SummarizeConfigChange returns the names of changed sections and safe attrs
// for logging. Secrets (tokens, passwords) are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs, logx.String("server.addr", newCfg.Server.Addr))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.redis_password_set", newCfg.Storage.RedisPassword != ""),
		)
	}
	if oldCfg.WhatsApp != newCfg.WhatsApp {
		changed = append(changed, "whatsapp")
		attrs = append(attrs,
			logx.String("whatsapp.driver", newCfg.WhatsApp.Driver),
			logx.String("whatsapp.country_code", newCfg.WhatsApp.CountryCode),
		)
	}
	if oldCfg.LinkPreview != newCfg.LinkPreview {
		changed = append(changed, "link_preview")
		attrs = append(attrs, logx.Bool("link_preview.enabled", newCfg.LinkPreview.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.ops_enabled", newCfg.Logging.Ops.Enabled),
		)
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.Bool("telegram.notify_broadcasts", newCfg.Telegram.NotifyBroadcasts),
		)
	}
	return changed, attrs
}

// RequiresRestart reports sections that are only read at startup.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "server", "storage", "whatsapp", "link_preview":
			out = append(out, s)
		}
	}
	return out
}
