package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"agent-zero/internal/domain"
)

// ResponseTool delivers the agent's final answer and ends its monologue.
type ResponseTool struct {
	logger *slog.Logger
}

// NewResponseTool creates the response tool.
func NewResponseTool(logger *slog.Logger) *ResponseTool {
	return &ResponseTool{logger: logger}
}

func (t *ResponseTool) Name() string { return "response" }
func (t *ResponseTool) Description() string {
	return "Send the final answer to the user or superior agent and finish the task"
}

func (t *ResponseTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {
					"type": "string",
					"description": "The final answer"
				}
			},
			"required": ["text"]
		}`),
	}
}

type responseParams struct {
	Text string `json:"text"`
}

func (t *ResponseTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.response", t.logger, params,
		func(_ context.Context, _ trace.Span, p responseParams) (any, error) {
			return &domain.ToolResult{Content: p.Text, BreakLoop: true}, nil
		},
	)
}
