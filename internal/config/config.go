// Package config loads the optional drift configuration file.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the optional drift configuration file.
type Config struct {
	Watch WatchConfig `toml:"watch"`
	Queue QueueConfig `toml:"queue"`
}

// WatchConfig holds monitored-tree settings.
type WatchConfig struct {
	Roots    []string `toml:"roots"`
	StateDir *string  `toml:"state_dir"`
	Interval *string  `toml:"interval"`
	Filters  []string `toml:"filters"`
}

// QueueConfig holds change-queue settings.
type QueueConfig struct {
	MaxBatch *int `toml:"max_batch"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "drift", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config file at an explicit path.
func LoadFrom(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

// ParseInterval resolves the configured scan interval, or def when unset.
func (c Config) ParseInterval(def time.Duration) (time.Duration, error) {
	if c.Watch.Interval == nil {
		return def, nil
	}
	return time.ParseDuration(*c.Watch.Interval)
}
