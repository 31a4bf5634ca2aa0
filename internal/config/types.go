package config

import "time"

// Defaults applied by Load when the config file omits a field.
const (
	DefaultPort            = 4517
	DefaultTimeoutSecs     = 600
	DefaultLogLevel        = "info"
	DefaultEnableWebsocket = true

	// MinTimeoutSecs and MaxTimeoutSecs bound per-question timeouts.
	// Anything outside is clamped, not rejected.
	MinTimeoutSecs = 60
	MaxTimeoutSecs = 3600
)

// Config is the top-level parley configuration, read from
// $XDG_CONFIG_HOME/parley/config.toml.
type Config struct {
	// Port is the loopback TCP port the daemon listens on.
	Port int `toml:"port"`

	// EnableWebsocket controls whether the dispatcher tries the websocket
	// transport before falling back to plain HTTP. Tri-state so an absent
	// key is distinguishable from an explicit false.
	EnableWebsocket *bool `toml:"enable_websocket"`

	// DefaultTimeoutSecs is used when a question carries no deadline.
	DefaultTimeoutSecs int `toml:"default_timeout_secs"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// WebsocketEnabled resolves the tri-state EnableWebsocket flag.
func (c *Config) WebsocketEnabled() bool {
	if c.EnableWebsocket == nil {
		return DefaultEnableWebsocket
	}
	return *c.EnableWebsocket
}

// DefaultTimeout returns the configured default timeout clamped to the
// allowed range.
func (c *Config) DefaultTimeout() time.Duration {
	return ClampTimeout(time.Duration(c.DefaultTimeoutSecs) * time.Second)
}

// ClampTimeout forces d into [MinTimeoutSecs, MaxTimeoutSecs] seconds.
// A non-positive duration gets the default.
func ClampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeoutSecs * time.Second
	}
	if d < MinTimeoutSecs*time.Second {
		return MinTimeoutSecs * time.Second
	}
	if d > MaxTimeoutSecs*time.Second {
		return MaxTimeoutSecs * time.Second
	}
	return d
}
