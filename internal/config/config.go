// Package config loads the daemon's TOML configuration and watches it for
// changes. A missing file is not an error: every field has a default, so a
// fresh install works with zero setup.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"parley/internal/paths"
)

// Load reads the config file from the default location.
// If the config file does not exist, it returns a Config of defaults (no error).
func Load() (*Config, error) {
	return LoadFrom(paths.ConfigFile())
}

// LoadFrom reads and parses a config file at the given path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{
		Port:               DefaultPort,
		DefaultTimeoutSecs: DefaultTimeoutSecs,
		LogLevel:           DefaultLogLevel,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DefaultTimeoutSecs == 0 {
		cfg.DefaultTimeoutSecs = DefaultTimeoutSecs
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets PARLEY_PORT override the file, so a second daemon
// can be pointed at a scratch port without editing config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARLEY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
}

// ExampleConfigPath returns the default config file path (for help messages).
func ExampleConfigPath() string {
	return paths.ConfigFile()
}
