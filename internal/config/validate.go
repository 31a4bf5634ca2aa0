package config

import (
	"errors"
	"fmt"
)

// Validate checks configuration invariants and returns actionable errors.
// Out-of-range timeouts are not errors; they are clamped at use.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var errs []error

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port: must be in 1..65535, got %d", cfg.Port))
	}

	if cfg.DefaultTimeoutSecs < 0 {
		errs = append(errs, fmt.Errorf("default_timeout_secs: must be >= 0, got %d", cfg.DefaultTimeoutSecs))
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
