// Package client is the dispatcher side of the bridge: it forwards a
// question to the local daemon and suspends until the daemon reports an
// answer or a cancellation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"parley/internal/wire"
)

// ErrBridgeUnavailable means the daemon is not reachable on its loopback
// port. Callers surface it as "start the GUI" guidance, not as a failure of
// the question itself.
var ErrBridgeUnavailable = errors.New("bridge daemon unavailable")

// dialTimeout bounds connection establishment. The daemon is local; if the
// port does not answer quickly it is not running.
const dialTimeout = 2 * time.Second

// Outcome is the terminal result of an Ask.
type Outcome struct {
	Answer *wire.Answer
	Reason string
}

// Client talks to one daemon. Safe for concurrent use.
type Client struct {
	baseURL  string
	wsURL    string
	http     *http.Client
	enableWS bool
	logger   *slog.Logger
}

// Options configures a Client.
type Options struct {
	// Host defaults to 127.0.0.1.
	Host string
	Port int
	// EnableWebsocket turns on the websocket-first transport.
	EnableWebsocket bool
	Logger          *slog.Logger
}

func New(opts Options) *Client {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, opts.Port)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  "http://" + addr,
		wsURL:    "ws://" + addr + "/bridge/ws",
		enableWS: opts.EnableWebsocket,
		logger:   logger,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
			},
			// No overall timeout: Ask calls legitimately block for minutes.
		},
	}
}

// Ask forwards the question and blocks until it resolves. The timeout is
// sent as the question's deadline; the daemon enforces it. A zero timeout
// defers to the daemon's configured default.
func (c *Client) Ask(ctx context.Context, payload wire.Payload, timeout time.Duration) (Outcome, error) {
	if err := payload.Validate(); err != nil {
		return Outcome{}, err
	}

	req := wire.SubmitRequest{Payload: payload}
	if timeout > 0 {
		ms := timeout.Milliseconds()
		req.DeadlineMS = &ms
	}

	if c.enableWS {
		out, err := c.askWS(ctx, req)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrBridgeUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, err
		}
		// Transport trouble, not daemon absence. Retry over plain HTTP.
		c.logger.Debug("websocket ask failed, falling back to http", "error", err)
	}

	return c.askHTTP(ctx, req)
}

func (c *Client) askHTTP(ctx context.Context, sr wire.SubmitRequest) (Outcome, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return Outcome{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bridge/submit", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Outcome{}, classifyDialError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, wire.MaxAnswerBytes))
	if err != nil {
		return Outcome{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("bridge returned %d: %s", resp.StatusCode, errorMessage(data))
	}

	var sresp wire.SubmitResponse
	if err := json.Unmarshal(data, &sresp); err != nil {
		return Outcome{}, fmt.Errorf("decoding response: %w", err)
	}
	return outcomeFrom(sresp)
}

func outcomeFrom(sr wire.SubmitResponse) (Outcome, error) {
	switch sr.Status {
	case wire.StatusAnswered:
		if sr.Answer == nil {
			return Outcome{}, fmt.Errorf("answered response without answer body")
		}
		return Outcome{Answer: sr.Answer}, nil
	case wire.StatusCancelled:
		reason := sr.Reason
		if reason == "" {
			reason = "cancelled"
		}
		return Outcome{Reason: reason}, nil
	default:
		return Outcome{}, fmt.Errorf("unknown response status %q", sr.Status)
	}
}

// Health probes the daemon.
func (c *Client) Health(ctx context.Context) (*wire.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyDialError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %d", resp.StatusCode)
	}
	var h wire.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding health: %w", err)
	}
	return &h, nil
}

// classifyDialError folds connection-level failures into
// ErrBridgeUnavailable so callers can distinguish "daemon not running" from
// a daemon that answered badly. Any transport error on a loopback target
// means daemon absence; context errors pass through untouched.
func classifyDialError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
}

func errorMessage(body []byte) string {
	var e map[string]string
	if err := json.Unmarshal(body, &e); err == nil && e["error"] != "" {
		return e["error"]
	}
	return string(body)
}
