package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	v, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := v.GetInt("server.port"); got != 8080 {
		t.Errorf("server.port = %d, want 8080", got)
	}
	if got := v.GetDuration("plugins.monitor.poll_interval"); got != 2*time.Second {
		t.Errorf("poll_interval = %v, want 2s", got)
	}
	if got := v.GetInt("plugins.outbox.max_attempts"); got != 5 {
		t.Errorf("max_attempts = %d, want 5", got)
	}
	if got := v.GetDuration("plugins.monitor.snmp_timeout"); got != 3*time.Second {
		t.Errorf("snmp_timeout = %v, want 3s", got)
	}
	if got := v.GetString("plugins.mqtt.ha_discovery_prefix"); got != "homeassistant" {
		t.Errorf("ha_discovery_prefix = %q, want homeassistant", got)
	}
	if got := v.GetInt("plugins.webhook.retries"); got != 3 {
		t.Errorf("webhook.retries = %d, want 3", got)
	}
}

func TestLoadConfig_file_and_env(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nasguard.yaml")
	yaml := "server:\n  port: 9191\nplugins:\n  monitor:\n    flicker_min_batch: 25\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("NG_LOGGING_LEVEL", "debug")

	v, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := v.GetInt("server.port"); got != 9191 {
		t.Errorf("server.port = %d, want 9191", got)
	}
	if got := v.GetInt("plugins.monitor.flicker_min_batch"); got != 25 {
		t.Errorf("flicker_min_batch = %d, want 25", got)
	}
	if got := v.GetString("logging.level"); got != "debug" {
		t.Errorf("logging.level = %q, want debug from env", got)
	}
}

func TestLoadConfig_missing_explicit_file(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}
