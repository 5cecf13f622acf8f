package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultServerAddr     = "127.0.0.1:3000"
	DefaultDataDir        = "./data"
	DefaultStorePath      = "./data/auth/whatsmeow.db"
	DefaultCountryCode    = "62"
	DefaultKeyPrefix      = "wabot:"
	DefaultLoginTimeout   = 20 * time.Second
	DefaultReconnectDelay = time.Second
	DefaultPreviewTimeout = 5 * time.Second
)

// ApplyDefaults fills zero-valued fields in place. Durations are left as
// strings; use the typed accessors to read them.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = DefaultServerAddr
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		switch c.Storage.Driver {
		case "sqlite":
			c.Storage.Path = DefaultDataDir + "/wabot.db"
		case "file":
			c.Storage.Path = DefaultDataDir
		}
	}
	if c.Storage.Driver == "redis" && c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = DefaultKeyPrefix
	}

	c.WhatsApp.Driver = strings.ToLower(strings.TrimSpace(c.WhatsApp.Driver))
	if c.WhatsApp.Driver == "" {
		c.WhatsApp.Driver = "whatsmeow"
	}
	if strings.TrimSpace(c.WhatsApp.StorePath) == "" {
		c.WhatsApp.StorePath = DefaultStorePath
	}
	if strings.TrimSpace(c.WhatsApp.CountryCode) == "" {
		c.WhatsApp.CountryCode = DefaultCountryCode
	}

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Ops.RatePerSec <= 0 {
		c.Logging.Ops.RatePerSec = 1
	}
	if strings.TrimSpace(c.Logging.Ops.MinLevel) == "" {
		c.Logging.Ops.MinLevel = "warn"
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "file", "sqlite", "memory":
	case "redis":
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			errs = append(errs, errors.New("storage.redis_addr: required for redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}

	switch c.WhatsApp.Driver {
	case "whatsmeow", "dryrun":
	default:
		errs = append(errs, fmt.Errorf("whatsapp.driver: unsupported %q", c.WhatsApp.Driver))
	}
	for _, r := range c.WhatsApp.CountryCode {
		if r < '0' || r > '9' {
			errs = append(errs, fmt.Errorf("whatsapp.country_code: must be digits, got %q", c.WhatsApp.CountryCode))
			break
		}
	}

	durations := []struct{ path, raw string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"whatsapp.login_timeout", c.WhatsApp.LoginTimeout},
		{"whatsapp.reconnect_delay", c.WhatsApp.ReconnectDelay},
		{"link_preview.timeout", c.LinkPreview.Timeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Logging.Ops.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("logging.ops.enabled: requires telegram.token"))
	}
	if strings.TrimSpace(c.Telegram.Token) != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id: required when telegram.token is set"))
	}

	return errors.Join(errs...)
}

// Typed accessors. Validate has already rejected malformed values, so parse
// errors fall back to the default here.

func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("server.read_timeout", s.ReadTimeout, 20*time.Second)
	return d
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("server.write_timeout", s.WriteTimeout, 60*time.Second)
	return d
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, 5*time.Second)
	return d
}

func (w WhatsAppConfig) LoginTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("whatsapp.login_timeout", w.LoginTimeout, DefaultLoginTimeout)
	return d
}

func (w WhatsAppConfig) ReconnectDelayDuration() time.Duration {
	d, _ := ParseDurationOrDefault("whatsapp.reconnect_delay", w.ReconnectDelay, DefaultReconnectDelay)
	return d
}

func (l LinkPreviewConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("link_preview.timeout", l.Timeout, DefaultPreviewTimeout)
	return d
}
