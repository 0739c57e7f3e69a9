package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 4317 {
		t.Errorf("default port = %d, want 4317", cfg.Server.Port)
	}
	if cfg.Pipeline.GroupWindow != 5*time.Minute {
		t.Errorf("group window = %v, want 5m", cfg.Pipeline.GroupWindow)
	}
	if cfg.Pipeline.StaleTimeout != 10*time.Minute {
		t.Errorf("stale timeout = %v, want 10m", cfg.Pipeline.StaleTimeout)
	}
	if cfg.Stream.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat interval = %v, want 30s", cfg.Stream.HeartbeatInterval)
	}
	if cfg.Pipeline.MaxInputLen != 2000 || cfg.Pipeline.MaxOutputLen != 5000 {
		t.Errorf("truncation bounds = %d/%d, want 2000/5000",
			cfg.Pipeline.MaxInputLen, cfg.Pipeline.MaxOutputLen)
	}
}

func TestLoadPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9000
pipeline:
  group_window: 2m
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Pipeline.GroupWindow != 2*time.Minute {
		t.Errorf("group window = %v, want 2m", cfg.Pipeline.GroupWindow)
	}
	// Unset keys keep their defaults.
	if cfg.Pipeline.StaleTimeout != 10*time.Minute {
		t.Errorf("stale timeout = %v, want default 10m", cfg.Pipeline.StaleTimeout)
	}
	if cfg.Server.DBPath != "observatory.db" {
		t.Errorf("db path = %q, want default", cfg.Server.DBPath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
