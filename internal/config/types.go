package config

type Config struct {
	Server      ServerConfig      `json:"server"`
	Storage     StorageConfig     `json:"storage"`
	WhatsApp    WhatsAppConfig    `json:"whatsapp"`
	LinkPreview LinkPreviewConfig `json:"link_preview"`
	Logging     LoggingConfig     `json:"logging"`

	// Telegram is only used for operator notifications (ops log sink and
	// broadcast summaries). Leave the token empty to disable.
	Telegram TelegramConfig `json:"telegram"`
}

// ServerConfig controls the HTTP API.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr         string `json:"addr"`                    // default: "127.0.0.1:3000"
	ReadTimeout  string `json:"read_timeout,omitempty"`  // default: "20s"
	WriteTimeout string `json:"write_timeout,omitempty"` // default: "60s"; login may block ~20s
	// Pprof mounts the runtime profiler under /debug on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// StorageConfig controls where the config and logs documents live.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
//
// Driver values:
//   - "file":   one JSON file per document under path (default)
//   - "sqlite": single SQLite database file at path
//   - "redis":  keys "<key_prefix><document>" on redis_addr
//   - "memory": process memory only
type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	KeyPrefix     string `json:"key_prefix,omitempty"` // default: "wabot:"
}

// WhatsAppConfig controls the transport session.
//
// Defaults (when fields are omitted/zero):
//   - driver: "whatsmeow"
//   - store_path: "./data/auth/whatsmeow.db"
//   - country_code: "62"
//   - login_timeout: "20s"
//   - reconnect_delay: "1s"
type WhatsAppConfig struct {
	Driver         string `json:"driver"`
	StorePath      string `json:"store_path"`
	CountryCode    string `json:"country_code"`
	LoginTimeout   string `json:"login_timeout,omitempty"`
	ReconnectDelay string `json:"reconnect_delay,omitempty"`
	// OSName is shown in the phone's "linked devices" list.
	OSName string `json:"os_name,omitempty"`
}

// LinkPreviewConfig controls the HTTP fallback used when the transport cannot
// build a link preview by itself.
type LinkPreviewConfig struct {
	Enabled   bool   `json:"enabled"`
	Timeout   string `json:"timeout,omitempty"` // default: "5s"
	UserAgent string `json:"user_agent,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Ops     LoggingOps  `json:"ops"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingOps struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// NotifyBroadcasts sends a summary message after each finished broadcast.
	NotifyBroadcasts bool `json:"notify_broadcasts,omitempty"`
}
