package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"parley/internal/wire"
)

// handleWS serves the websocket transport on /bridge/ws. One connection can
// multiplex several in-flight questions: each request envelope is handled in
// its own goroutine and the matching response carries the same envelope id.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(wire.MaxAnswerBytes)
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	// Cancel before waiting: in-flight questions unblock via ctx and get
	// cancelled as disconnected.
	defer func() {
		cancel()
		wg.Wait()
	}()

	// Writes are serialized; response goroutines and the pong path share
	// the connection.
	var wmu sync.Mutex
	send := func(msg wire.WSMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		return wsjson.Write(ctx, conn, msg)
	}

	for {
		var msg wire.WSMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		switch msg.Type {
		case wire.WSTypePing:
			if err := send(wire.WSMessage{Type: wire.WSTypePong, ID: msg.ID}); err != nil {
				return
			}

		case wire.WSTypeRequest:
			var sr wire.SubmitRequest
			if err := json.Unmarshal(msg.Payload, &sr); err != nil {
				send(wire.WSMessage{Type: wire.WSTypeError, ID: msg.ID, Message: "malformed request payload"})
				continue
			}
			wg.Add(1)
			go func(envelopeID string, sr wire.SubmitRequest) {
				defer wg.Done()
				g.serveWSRequest(ctx, envelopeID, sr, send)
			}(msg.ID, sr)

		default:
			send(wire.WSMessage{Type: wire.WSTypeError, ID: msg.ID, Message: "unsupported message type"})
		}
	}
}

func (g *Gateway) serveWSRequest(ctx context.Context, envelopeID string, sr wire.SubmitRequest, send func(wire.WSMessage) error) {
	if g.headless {
		send(wire.WSMessage{Type: wire.WSTypeError, ID: envelopeID, Message: "daemon is headless, interactive input unavailable"})
		return
	}

	resp, _, err := g.process(ctx, sr)
	if err != nil {
		send(wire.WSMessage{Type: wire.WSTypeError, ID: envelopeID, Message: err.Error()})
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		send(wire.WSMessage{Type: wire.WSTypeError, ID: envelopeID, Message: "encoding response"})
		return
	}
	if err := send(wire.WSMessage{Type: wire.WSTypeResponse, ID: envelopeID, Payload: payload}); err != nil {
		g.logger.Warn("websocket response write failed", "id", envelopeID, "error", err)
	}
}
