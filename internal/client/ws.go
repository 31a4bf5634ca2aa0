package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"parley/internal/wire"
)

// askWS runs one question over a dedicated websocket connection. The
// envelope id correlates the response; stray envelopes for other ids are
// skipped rather than treated as errors.
func (c *Client) askWS(ctx context.Context, sr wire.SubmitRequest) (Outcome, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.wsURL, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		var netErr *net.OpError
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
		}
		return Outcome{}, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(wire.MaxAnswerBytes)

	payload, err := json.Marshal(sr)
	if err != nil {
		return Outcome{}, fmt.Errorf("encoding request: %w", err)
	}

	envelopeID := uuid.NewString()
	if err := wsjson.Write(ctx, conn, wire.WSMessage{
		Type:    wire.WSTypeRequest,
		ID:      envelopeID,
		Payload: payload,
	}); err != nil {
		return Outcome{}, fmt.Errorf("writing request: %w", err)
	}

	for {
		var msg wire.WSMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return Outcome{}, fmt.Errorf("reading response: %w", err)
		}

		switch msg.Type {
		case wire.WSTypePing:
			if err := wsjson.Write(ctx, conn, wire.WSMessage{Type: wire.WSTypePong, ID: msg.ID}); err != nil {
				return Outcome{}, fmt.Errorf("writing pong: %w", err)
			}
		case wire.WSTypeResponse:
			if msg.ID != envelopeID {
				continue
			}
			var sresp wire.SubmitResponse
			if err := json.Unmarshal(msg.Payload, &sresp); err != nil {
				return Outcome{}, fmt.Errorf("decoding response: %w", err)
			}
			return outcomeFrom(sresp)
		case wire.WSTypeError:
			if msg.ID != envelopeID {
				continue
			}
			return Outcome{}, fmt.Errorf("bridge error: %s", msg.Message)
		}
	}
}
