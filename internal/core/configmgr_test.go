package core

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "t0ken"
  owner_user_ids: [42]
daily:
  enabled: true
  chat_id: -100500
  at: "21:00"
  window: day
plugins:
  formula:
    enabled: true
    config:
      max_results: 7
`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "t0ken" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if !cfg.Daily.Enabled || cfg.Daily.ChatID != -100500 || cfg.Daily.At != "21:00" {
		t.Fatalf("daily = %+v", cfg.Daily)
	}
	p, ok := cfg.Plugins["formula"]
	if !ok || !p.Enabled {
		t.Fatalf("plugins = %+v", cfg.Plugins)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different snapshot")
	}
}

func TestConfigRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "x"
  legacy_field: true
`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("want error for unknown field")
	}
}

func TestConfigRejectsTrailingJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram":{"token":"x"}}{"again":true}`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("want error for trailing data")
	}
}

func TestConfigPluginRawUnknownField(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
plugins:
  formula:
    enabled: true
    oops: 1
`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("want error for unknown plugin field")
	}
}

func TestDurationHelpers(t *testing.T) {
	if d, err := parseDurationField("x", " 90s "); err != nil || d.Seconds() != 90 {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := parseDurationField("x", "-5s"); err == nil {
		t.Fatalf("want error for negative duration")
	}
	if d, err := parseDurationOrDefault("x", "", 7); err != nil || d != 7 {
		t.Fatalf("got %v, %v", d, err)
	}
}
