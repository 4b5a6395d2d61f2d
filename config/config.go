// Package config loads moocored's startup configuration from a YAML
// file, with command-line flags overriding whatever the file sets.
// Grounded on conformance/loader.go's yaml.v3 decode pattern — the
// only YAML consumer the teacher repo already had.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is moocored's full startup configuration. Zero value is a
// valid (if useless) config; Load fills it from a file, and
// cmd/moocored/main.go applies explicitly passed command-line flags on
// top.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Listen struct {
		Port int `yaml:"port"`
	} `yaml:"listen"`

	Checkpoint struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"checkpoint"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Workers struct {
		Enabled              bool  `yaml:"enabled"`
		PingFrequencySeconds int   `yaml:"ping_frequency_seconds"`
		DetachTimeoutSeconds int   `yaml:"detach_timeout_seconds"`
		MaxInFlight          int64 `yaml:"max_in_flight"`
	} `yaml:"workers"`
}

// Default returns a Config with the same defaults cmd/moocored/main.go's
// flags fall back to when neither a file nor a flag sets a value.
func Default() *Config {
	cfg := &Config{}
	cfg.Database.Path = "Test.db"
	cfg.Listen.Port = 7777
	cfg.Checkpoint.IntervalSeconds = 3600
	cfg.Logging.Level = "info"
	cfg.Workers.PingFrequencySeconds = 5
	cfg.Workers.DetachTimeoutSeconds = 10
	cfg.Workers.MaxInFlight = 256
	return cfg
}

// Load reads path and overlays it onto Default(). A missing file is
// not an error — it just leaves the defaults in place, so moocored
// can run config-free from flags alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
