package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent carries a freshly loaded and validated config.
type ReloadEvent struct {
	Config *Config
}

// Watcher reloads the config file when it changes on disk. Invalid edits are
// logged and skipped; the last good config stays in effect.
type Watcher struct {
	path   string
	logger *slog.Logger
	fs     *fsnotify.Watcher
	events chan ReloadEvent
}

// NewWatcher watches the config file at path. The parent directory is
// watched, not the file itself: editors replace the file on save, which
// would silently kill a file-level watch.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:   path,
		logger: logger,
		fs:     fs,
		events: make(chan ReloadEvent, 1),
	}, nil
}

// Events returns the reload feed. At most one event is buffered; a burst of
// writes collapses into the latest config.
func (w *Watcher) Events() <-chan ReloadEvent { return w.events }

// Start blocks until ctx is cancelled, emitting a ReloadEvent for each
// successful reload.
func (w *Watcher) Start(ctx context.Context) {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFrom(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous", "error", err)
		return
	}
	if err := Validate(cfg); err != nil {
		w.logger.Warn("config reload invalid, keeping previous", "error", err)
		return
	}

	// Drop the stale buffered event, if any, before queueing the new one.
	select {
	case <-w.events:
	default:
	}
	w.events <- ReloadEvent{Config: cfg}
	w.logger.Info("config reloaded", "path", w.path)
}
