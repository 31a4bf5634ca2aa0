// Package wire defines the JSON contract spoken between the dispatcher
// process and the GUI daemon. Both sides are versioned independently, so
// shapes here change additively or not at all.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Render hints for question payloads.
const (
	RenderPlain    = "plain"
	RenderMarkdown = "markdown"
)

// Validation limits, matching what the daemon will accept.
const (
	// MaxTextBytes bounds the question text (1 MiB).
	MaxTextBytes = 1 << 20
	// MaxChoices bounds the number of predefined options.
	MaxChoices = 20
	// MaxAnswerBytes bounds a full answer body, attachments included (10 MiB).
	MaxAnswerBytes = 10 << 20
)

// Payload is the question content presented to the human.
type Payload struct {
	Text       string   `json:"text"`
	Choices    []string `json:"choices,omitempty"`
	RenderHint string   `json:"render_hint,omitempty"`
}

// Validate rejects malformed payloads before they reach the registry.
func (p Payload) Validate() error {
	if p.Text == "" {
		return fmt.Errorf("payload text is required")
	}
	if len(p.Text) > MaxTextBytes {
		return fmt.Errorf("payload text exceeds %d bytes", MaxTextBytes)
	}
	if len(p.Choices) > MaxChoices {
		return fmt.Errorf("payload has %d choices, max %d", len(p.Choices), MaxChoices)
	}
	switch p.RenderHint {
	case "", RenderPlain, RenderMarkdown:
		return nil
	default:
		return fmt.Errorf("unknown render_hint %q", p.RenderHint)
	}
}

// Attachment is one binary blob included in an answer.
type Attachment struct {
	DataBase64 string `json:"data_base64"`
	MediaType  string `json:"media_type"`
	Filename   string `json:"filename,omitempty"`
}

// Answer is the human's response to a question.
type Answer struct {
	Text        string       `json:"text,omitempty"`
	Choices     []string     `json:"choices"`
	Attachments []Attachment `json:"attachments,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// SubmitRequest is the body of POST /bridge/submit.
// A nil or non-positive DeadlineMS means "use the daemon's default timeout".
type SubmitRequest struct {
	Payload    Payload `json:"payload"`
	DeadlineMS *int64  `json:"deadline_ms"`
}

// Submit response statuses.
const (
	StatusAnswered  = "answered"
	StatusCancelled = "cancelled"
)

// Cancellation reasons surfaced to the dispatcher.
const (
	ReasonExpired      = "expired"
	ReasonDismissed    = "dismissed"
	ReasonShutdown     = "shutting down"
	ReasonDisconnected = "caller disconnected"
)

// SubmitResponse is the body of a completed /bridge/submit call.
// Status is always StatusAnswered or StatusCancelled; a dropped connection
// is never a legitimate outcome.
type SubmitResponse struct {
	Status string  `json:"status"`
	Answer *Answer `json:"answer,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// Notification is pushed to the interactive surface when a question is
// registered. The surface acknowledges it only by eventually submitting an
// answer or dismissing the id.
type Notification struct {
	ID      string  `json:"id"`
	Payload Payload `json:"payload"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// WebSocket envelope types for /bridge/ws.
const (
	WSTypeRequest  = "request"
	WSTypeResponse = "response"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeError    = "error"
)

// WSMessage is the framed envelope on the /bridge/ws transport. Request and
// response envelopes carry a correlation id so one connection can multiplex
// several in-flight questions.
type WSMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}
