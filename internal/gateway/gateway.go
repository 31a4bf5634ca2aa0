// Package gateway is the daemon's loopback HTTP front. It accepts suspended
// questions from dispatcher processes, parks them in the registry, and holds
// each connection open until the human answers, the deadline passes, or the
// daemon shuts down.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"parley/internal/bridge"
	"parley/internal/config"
	"parley/internal/registry"
	"parley/internal/wire"
)

// maxSubmitBytes bounds a /bridge/submit body: the payload text limit plus
// headroom for choices and envelope.
const maxSubmitBytes = wire.MaxTextBytes + 64*1024

// defaultSweepInterval is how often expired entries are reaped.
const defaultSweepInterval = time.Second

// Config wires a Gateway to its collaborators.
type Config struct {
	Registry *registry.Registry
	Bridge   *bridge.Bridge
	Logger   *slog.Logger
	Version  string

	// Headless daemons refuse interaction outright instead of parking
	// questions nobody will ever see.
	Headless bool

	// DefaultTimeout applies when a submission carries no deadline.
	DefaultTimeout time.Duration

	// SweepInterval overrides the expiry cadence; zero means the default.
	SweepInterval time.Duration
}

// Gateway owns the listener, the HTTP server, and the expiry sweep.
type Gateway struct {
	reg      *registry.Registry
	bridge   *bridge.Bridge
	logger   *slog.Logger
	version  string
	headless bool

	defaultTimeout atomic.Int64 // time.Duration
	sweepInterval  time.Duration

	startedAt time.Time
	ln        net.Listener
	srv       *http.Server
	sweepStop context.CancelFunc
	sweepDone chan struct{}
}

func New(cfg Config) *Gateway {
	g := &Gateway{
		reg:           cfg.Registry,
		bridge:        cfg.Bridge,
		logger:        cfg.Logger,
		version:       cfg.Version,
		headless:      cfg.Headless,
		sweepInterval: cfg.SweepInterval,
	}
	if g.sweepInterval <= 0 {
		g.sweepInterval = defaultSweepInterval
	}
	g.defaultTimeout.Store(int64(config.ClampTimeout(cfg.DefaultTimeout)))
	return g
}

// SetDefaultTimeout swaps the fallback timeout, clamped. Called on config
// reload; in-flight questions keep the deadline they were registered with.
func (g *Gateway) SetDefaultTimeout(d time.Duration) {
	g.defaultTimeout.Store(int64(config.ClampTimeout(d)))
}

// Start binds 127.0.0.1:port and begins serving. A port of 0 picks a free
// one; Addr reports the bound address either way.
func (g *Gateway) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("binding loopback port %d: %w", port, err)
	}
	g.ln = ln
	g.startedAt = time.Now()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", g.handleHealth)
	r.Post("/bridge/submit", g.handleSubmit)
	r.Get("/bridge/ws", g.handleWS)

	g.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	g.sweepStop = cancel
	g.sweepDone = make(chan struct{})
	go g.sweepLoop(sweepCtx)

	go func() {
		if err := g.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve failed", "error", err)
		}
	}()

	g.logger.Info("gateway listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, valid after Start.
func (g *Gateway) Addr() string {
	if g.ln == nil {
		return ""
	}
	return g.ln.Addr().String()
}

// Shutdown cancels every outstanding question, then drains the HTTP server.
// The cancellations flow through still-open submit connections as structured
// "cancelled" responses before those connections close.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.sweepStop != nil {
		g.sweepStop()
		<-g.sweepDone
	}
	if n := g.reg.CancelAll(wire.ReasonShutdown); n > 0 {
		g.logger.Info("cancelled outstanding questions", "count", n)
	}
	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown(ctx)
}

func (g *Gateway) sweepLoop(ctx context.Context) {
	defer close(g.sweepDone)
	t := time.NewTicker(g.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := g.reg.ExpireOlderThan(now); n > 0 {
				g.logger.Info("expired questions", "count", n)
			}
		}
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.HealthResponse{
		Status:        "ok",
		Version:       g.version,
		UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
	})
}

func (g *Gateway) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if g.headless {
		writeError(w, http.StatusServiceUnavailable, "daemon is headless, interactive input unavailable")
		return
	}

	var sr wire.SubmitRequest
	body := http.MaxBytesReader(w, r.Body, maxSubmitBytes)
	if err := json.NewDecoder(body).Decode(&sr); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}

	resp, status, err := g.process(r.Context(), sr)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// process registers the question, announces it, and blocks until it
// resolves. Caller disconnects cancel the question so it does not linger in
// front of the human.
func (g *Gateway) process(ctx context.Context, sr wire.SubmitRequest) (*wire.SubmitResponse, int, error) {
	if err := sr.Payload.Validate(); err != nil {
		return nil, http.StatusBadRequest, err
	}

	timeout := time.Duration(g.defaultTimeout.Load())
	if sr.DeadlineMS != nil && *sr.DeadlineMS > 0 {
		timeout = time.Duration(*sr.DeadlineMS) * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	id, waiter, err := g.reg.Register(sr.Payload, deadline)
	if err != nil {
		if errors.Is(err, registry.ErrRegistryFull) {
			return nil, http.StatusTooManyRequests, err
		}
		return nil, http.StatusInternalServerError, err
	}

	g.logger.Info("question registered", "id", id, "timeout", timeout)
	g.bridge.Notify(id, sr.Payload)

	select {
	case out := <-waiter:
		if out.Answer != nil {
			g.logger.Info("question answered", "id", id)
			return &wire.SubmitResponse{Status: wire.StatusAnswered, Answer: out.Answer}, 0, nil
		}
		g.logger.Info("question cancelled", "id", id, "reason", out.Reason)
		return &wire.SubmitResponse{Status: wire.StatusCancelled, Reason: out.Reason}, 0, nil
	case <-ctx.Done():
		// The dispatcher went away; nobody is waiting for this answer.
		if err := g.reg.Cancel(id, wire.ReasonDisconnected); err == nil {
			g.logger.Info("question abandoned", "id", id)
		}
		return nil, http.StatusRequestTimeout, ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
