// Package daemon assembles and runs the GUI process: singleton lock, config,
// registry, gateway, and the interactive surface.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sys/unix"

	"parley/internal/bridge"
	"parley/internal/config"
	"parley/internal/gateway"
	"parley/internal/paths"
	"parley/internal/registry"
	"parley/internal/tui"
	"parley/internal/version"
)

// shutdownGrace bounds how long in-flight HTTP connections get to drain.
const shutdownGrace = 5 * time.Second

// Options come from the gui subcommand's flags.
type Options struct {
	// Headless runs the gateway without an interactive surface; submits are
	// refused with an explicit error instead of queueing forever.
	Headless bool
	// Port overrides the configured port when non-zero.
	Port int
}

// Run starts the daemon and blocks until shutdown. Called when
// argv[1] == "gui".
func Run(opts Options) error {
	if err := paths.EnsureDir(paths.RuntimeDir()); err != nil {
		return fmt.Errorf("creating runtime dir: %w", err)
	}

	unlock, err := acquireLock(paths.LockPath())
	if err != nil {
		return err
	}
	defer unlock()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	reg := registry.New()
	b := bridge.New(reg)
	gw := gateway.New(gateway.Config{
		Registry:       reg,
		Bridge:         b,
		Logger:         logger,
		Version:        version.Version,
		Headless:       opts.Headless,
		DefaultTimeout: cfg.DefaultTimeout(),
	})
	if err := gw.Start(cfg.Port); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := gw.Shutdown(ctx); err != nil {
			logger.Warn("gateway shutdown", "error", err)
		}
	}()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	startConfigWatch(watchCtx, gw, logger)

	logger.Info("daemon up", "addr", gw.Addr(), "headless", opts.Headless, "version", version.Version)

	if opts.Headless {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("daemon shutting down")
		return nil
	}

	p := tea.NewProgram(tui.NewModel(b), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running interface: %w", err)
	}
	logger.Info("daemon shutting down")
	return nil
}

// startConfigWatch hot-reloads the default timeout on config edits. Port
// changes need a restart; rebinding under live connections is not worth it.
func startConfigWatch(ctx context.Context, gw *gateway.Gateway, logger *slog.Logger) {
	w, err := config.NewWatcher(paths.ConfigFile(), logger)
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
		return
	}
	go w.Start(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				gw.SetDefaultTimeout(ev.Config.DefaultTimeout())
			}
		}
	}()
}

// acquireLock takes a non-blocking exclusive flock so two daemons never
// fight over the port.
func acquireLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("another parley gui is already running")
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// stdout belongs to the terminal interface; logs go to stderr.
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
