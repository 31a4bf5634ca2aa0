// Package dispatch exposes the bridge as MCP tools over stdio. The ask tool
// is the whole point: a model calls it, the human answers in the GUI daemon,
// and the tool result carries the answer back into the model's context.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"parley/internal/client"
	"parley/internal/config"
	"parley/internal/wire"
)

// asker is the slice of client.Client the tools need.
type asker interface {
	Ask(ctx context.Context, payload wire.Payload, timeout time.Duration) (client.Outcome, error)
	Health(ctx context.Context) (*wire.HealthResponse, error)
}

// Config wires the MCP server to the daemon client.
type Config struct {
	Client         asker
	Logger         *slog.Logger
	Version        string
	DefaultTimeout time.Duration
	// AttachmentDir receives decoded answer attachments; tool results carry
	// file paths instead of raw bytes.
	AttachmentDir string
}

const serverInstructions = `parley bridges you to a human operator. Call the ask tool whenever you ` +
	`need a decision, a credential, a clarification, or approval that only a ` +
	`person can give. The call blocks until the human responds, so prefer one ` +
	`well-formed question over many small ones.`

// NewServer builds the stdio MCP server with the ask and status tools.
func NewServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer(
		"parley",
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
	)

	askTool := mcp.NewTool("ask",
		mcp.WithDescription("Ask the human operator a question and wait for their answer. "+
			"Blocks until the human responds, dismisses the question, or the timeout expires."),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The question to present to the human."),
		),
		mcp.WithArray("choices",
			mcp.Description("Optional predefined options the human can pick from."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("markdown",
			mcp.Description("Render the message as markdown."),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("How long to wait for an answer, in seconds. Clamped to 60..3600; default 600."),
		),
	)
	s.AddTool(askTool, handleAsk(cfg))

	statusTool := mcp.NewTool("status",
		mcp.WithDescription("Check whether the parley GUI daemon is running and reachable."),
	)
	s.AddTool(statusTool, handleStatus(cfg))

	return s
}

func handleAsk(cfg Config) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError("message is required"), nil
		}

		payload := wire.Payload{Text: message}
		if req.GetBool("markdown", false) {
			payload.RenderHint = wire.RenderMarkdown
		}
		if raw, ok := req.GetArguments()["choices"]; ok {
			choices, err := stringSlice(raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("choices: %v", err)), nil
			}
			payload.Choices = choices
		}
		if err := payload.Validate(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		timeout := cfg.DefaultTimeout
		if secs := req.GetFloat("timeout_seconds", 0); secs > 0 {
			timeout = config.ClampTimeout(time.Duration(secs * float64(time.Second)))
		}

		cfg.Logger.Info("asking human", "timeout", timeout, "choices", len(payload.Choices))

		out, err := cfg.Client.Ask(ctx, payload, timeout)
		if err != nil {
			if errors.Is(err, client.ErrBridgeUnavailable) {
				return mcp.NewToolResultError(
					"The parley GUI daemon is not running. Ask the user to start it with: parley gui"), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("asking the human failed: %v", err)), nil
		}

		if out.Answer == nil {
			cfg.Logger.Info("question cancelled", "reason", out.Reason)
			return mcp.NewToolResultText("No response from user: " + out.Reason), nil
		}

		contents, err := renderAnswer(out.Answer, cfg.AttachmentDir)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("rendering answer: %v", err)), nil
		}
		return &mcp.CallToolResult{Content: contents}, nil
	}
}

func handleStatus(cfg Config) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		h, err := cfg.Client.Health(probeCtx)
		if err != nil {
			if errors.Is(err, client.ErrBridgeUnavailable) {
				return mcp.NewToolResultText("Daemon not running. Start it with: parley gui"), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("health check failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(
			"Daemon %s: version %s, up %ds", h.Status, h.Version, h.UptimeSeconds)), nil
	}
}

func stringSlice(raw any) ([]string, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of strings")
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is not a string", i)
		}
		out = append(out, s)
	}
	return out, nil
}
