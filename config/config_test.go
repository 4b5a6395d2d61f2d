package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen.Port != 7777 {
		t.Errorf("expected default port 7777, got %d", cfg.Listen.Port)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != "Test.db" {
		t.Errorf("expected default db path, got %q", cfg.Database.Path)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := []byte(`
database:
  path: my.db
listen:
  port: 8888
workers:
  enabled: true
  ping_frequency_seconds: 15
`)
	if err := os.WriteFile(path, contents, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != "my.db" {
		t.Errorf("expected overridden db path, got %q", cfg.Database.Path)
	}
	if cfg.Listen.Port != 8888 {
		t.Errorf("expected overridden port, got %d", cfg.Listen.Port)
	}
	if !cfg.Workers.Enabled {
		t.Error("expected workers.enabled to be true")
	}
	if cfg.Workers.PingFrequencySeconds != 15 {
		t.Errorf("expected 15s ping frequency, got %v", cfg.Workers.PingFrequencySeconds)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Checkpoint.IntervalSeconds != 3600 {
		t.Errorf("expected default checkpoint interval, got %d", cfg.Checkpoint.IntervalSeconds)
	}
}
