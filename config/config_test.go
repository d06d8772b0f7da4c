package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
monitor:
  log_directory: /tmp/mmdvm-logs
  file_pattern: "MMDVM-*.log"
engine:
  history_size: 25
  qso_timeout_seconds: 60
api:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.LogDirectory != "/tmp/mmdvm-logs" {
		t.Fatalf("log directory not applied: %s", cfg.Monitor.LogDirectory)
	}
	if cfg.Engine.HistorySize != 25 {
		t.Fatalf("history size not applied: %d", cfg.Engine.HistorySize)
	}
	// Unset fields keep defaults.
	if cfg.Engine.SweepIntervalSeconds != 5 {
		t.Fatalf("expected default sweep interval, got %d", cfg.Engine.SweepIntervalSeconds)
	}
	if cfg.API.Enabled {
		t.Fatal("api.enabled=false not applied")
	}
}

func TestLoadRejectsBadCapacity(t *testing.T) {
	path := writeConfig(t, `
engine:
  history_size: 0
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for history_size < 1")
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	path := writeConfig(t, `
engine:
  qso_timeout_seconds: -5
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative timeout")
	}
}

func TestLoadRejectsPatternWithPath(t *testing.T) {
	path := writeConfig(t, `
monitor:
  file_pattern: "logs/MMDVM-*.log"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for pattern containing a path separator")
	}
}

func TestValidateRequiresBrokerWhenMQTTEnabled(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for enabled MQTT without broker")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
