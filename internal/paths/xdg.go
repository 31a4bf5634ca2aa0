package paths

import (
	"os"
	"path/filepath"
)

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

func xdgDir(envVar, fallbackSuffix string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, "parley")
	}
	return filepath.Join(homeDir(), fallbackSuffix, "parley")
}

// ConfigDir returns the parley config directory ($XDG_CONFIG_HOME/parley).
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the parley state directory ($XDG_STATE_HOME/parley).
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// RuntimeDir returns the parley runtime directory for locks and ephemeral
// state. Falls back to $XDG_STATE_HOME/parley if XDG_RUNTIME_DIR is unset.
func RuntimeDir() string {
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return filepath.Join(v, "parley")
	}
	return StateDir()
}

// ConfigFile returns the path to config.toml.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// LockPath returns the path to the GUI process file lock.
func LockPath() string {
	return filepath.Join(RuntimeDir(), "gui.lock")
}

// AttachmentDir returns the workspace-local directory where the dispatcher
// saves answer attachments so the invoking host can read them back.
func AttachmentDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(os.TempDir(), "parley", "attachments")
	}
	return filepath.Join(cwd, ".parley", "tmp")
}

// EnsureDir creates a directory and parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
