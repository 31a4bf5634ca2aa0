package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"parley/internal/bridge"
	"parley/internal/gateway"
	"parley/internal/registry"
	"parley/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func portOf(t *testing.T, url string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(url[len("http://"):])
	if err != nil {
		t.Fatalf("parsing server addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestAskAnsweredOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bridge/submit" {
			http.NotFound(w, r)
			return
		}
		var sr wire.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&sr); err != nil {
			t.Errorf("decoding submit body: %v", err)
		}
		if sr.Payload.Text != "ok to merge?" {
			t.Errorf("payload text = %q", sr.Payload.Text)
		}
		if sr.DeadlineMS == nil || *sr.DeadlineMS != 90_000 {
			t.Errorf("deadline_ms = %v, want 90000", sr.DeadlineMS)
		}
		json.NewEncoder(w).Encode(wire.SubmitResponse{
			Status: wire.StatusAnswered,
			Answer: &wire.Answer{Text: "ship it", Choices: []string{}},
		})
	}))
	defer srv.Close()

	c := New(Options{Port: portOf(t, srv.URL), Logger: testLogger()})
	out, err := c.Ask(context.Background(), wire.Payload{Text: "ok to merge?"}, 90*time.Second)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if out.Answer == nil || out.Answer.Text != "ship it" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestAskCancelledCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wire.SubmitResponse{
			Status: wire.StatusCancelled,
			Reason: wire.ReasonExpired,
		})
	}))
	defer srv.Close()

	c := New(Options{Port: portOf(t, srv.URL), Logger: testLogger()})
	out, err := c.Ask(context.Background(), wire.Payload{Text: "q"}, 0)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if out.Answer != nil || out.Reason != wire.ReasonExpired {
		t.Fatalf("outcome = %+v, want cancelled %q", out, wire.ReasonExpired)
	}
}

func TestAskRejectsInvalidPayloadLocally(t *testing.T) {
	c := New(Options{Port: 1, Logger: testLogger()})
	if _, err := c.Ask(context.Background(), wire.Payload{}, 0); err == nil {
		t.Fatal("Ask() with empty payload: error = nil, want validation error")
	}
}

func TestAskDaemonDownReturnsUnavailable(t *testing.T) {
	// Grab a free port, then close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	for _, enableWS := range []bool{false, true} {
		c := New(Options{Port: port, EnableWebsocket: enableWS, Logger: testLogger()})
		start := time.Now()
		_, err := c.Ask(context.Background(), wire.Payload{Text: "anyone?"}, 0)
		if !errors.Is(err, ErrBridgeUnavailable) {
			t.Fatalf("enableWS=%v: Ask() error = %v, want ErrBridgeUnavailable", enableWS, err)
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Fatalf("enableWS=%v: Ask() took %v, want prompt failure", enableWS, elapsed)
		}
	}
}

func TestAskContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(Options{Port: portOf(t, srv.URL), Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Ask(ctx, wire.Payload{Text: "q"}, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Ask() error = %v, want context.Canceled", err)
	}
}

func TestAskNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "daemon is headless"})
	}))
	defer srv.Close()

	c := New(Options{Port: portOf(t, srv.URL), Logger: testLogger()})
	_, err := c.Ask(context.Background(), wire.Payload{Text: "q"}, 0)
	if err == nil || errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("Ask() error = %v, want non-unavailable error", err)
	}
}

func TestHealthProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(wire.HealthResponse{Status: "ok", Version: "1.2.3", UptimeSeconds: 42})
	}))
	defer srv.Close()

	c := New(Options{Port: portOf(t, srv.URL), Logger: testLogger()})
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.Status != "ok" || h.Version != "1.2.3" || h.UptimeSeconds != 42 {
		t.Fatalf("health = %+v", h)
	}
}

// Full round trip against the real daemon gateway over the websocket
// transport, answered through the bridge.
func TestAskWebsocketAgainstGateway(t *testing.T) {
	reg := registry.New()
	b := bridge.New(reg)
	g := gateway.New(gateway.Config{
		Registry:       reg,
		Bridge:         b,
		Logger:         testLogger(),
		Version:        "test",
		DefaultTimeout: time.Minute,
	})
	if err := g.Start(0); err != nil {
		t.Fatalf("gateway Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.Shutdown(ctx)
	}()

	_, portStr, _ := net.SplitHostPort(g.Addr())
	port, _ := strconv.Atoi(portStr)
	c := New(Options{Port: port, EnableWebsocket: true, Logger: testLogger()})

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	done := make(chan Outcome, 1)
	errs := make(chan error, 1)
	go func() {
		out, err := c.Ask(context.Background(), wire.Payload{Text: "ws ok?"}, time.Minute)
		if err != nil {
			errs <- err
			return
		}
		done <- out
	}()

	select {
	case n := <-sub.C():
		if err := b.SubmitAnswer(n.ID, wire.Answer{Text: "ws fine"}); err != nil {
			t.Fatalf("SubmitAnswer() error = %v", err)
		}
	case err := <-errs:
		t.Fatalf("Ask() error = %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("no notification")
	}

	select {
	case out := <-done:
		if out.Answer == nil || out.Answer.Text != "ws fine" {
			t.Fatalf("outcome = %+v", out)
		}
	case err := <-errs:
		t.Fatalf("Ask() error = %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("Ask() never returned")
	}
}
