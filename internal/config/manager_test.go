package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
server:
  addr: "127.0.0.1:8080"
whatsapp:
  driver: dryrun
logging:
  level: debug
`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != DefaultDataDir {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.WhatsApp.CountryCode != DefaultCountryCode {
		t.Fatalf("CountryCode = %q", cfg.WhatsApp.CountryCode)
	}
	if got := cfg.WhatsApp.LoginTimeoutDuration(); got != DefaultLoginTimeout {
		t.Fatalf("LoginTimeoutDuration = %v", got)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"server":{"addr":":1"},"bogus":true}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"server":{}} {"server":{}}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestParseTelegramTokenFromEnv(t *testing.T) {
	t.Setenv(EnvTelegramToken, "123:abc")
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"telegram":{"chat_id":42}}`)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Storage:  StorageConfig{Driver: "redis"},
		WhatsApp: WhatsAppConfig{Driver: "carrier-pigeon", CountryCode: "+62", LoginTimeout: "soon"},
	}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"storage.redis_addr", "whatsapp.driver", "whatsapp.country_code", "whatsapp.login_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestWatchPublishesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("Level = %q", cfg.Logging.Level)
			}
			return
		case <-tick.C:
			// keep touching the file until the watcher is up
			writeFile(t, path, `{"logging":{"level":"debug"}}`)
		case <-deadline:
			t.Fatalf("timed out waiting for reload")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}, Telegram: TelegramConfig{Token: "a"}}
	newCfg := &Config{Logging: LoggingConfig{Level: "debug"}, Telegram: TelegramConfig{Token: "b"}, Storage: StorageConfig{Driver: "sqlite"}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"storage", "logging", "telegram"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if got := RequiresRestart(changed); len(got) != 1 || got[0] != "storage" {
		t.Fatalf("RequiresRestart = %v", got)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "250ms", time.Second); err != nil || d != 250*time.Millisecond {
		t.Fatalf("250ms: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("expected negative duration error")
	}
}
