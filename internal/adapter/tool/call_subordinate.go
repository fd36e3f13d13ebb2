package tool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/tracer"
)

// CallSubordinateTool hands a task to the calling agent's subordinate and
// returns the subordinate's answer.
type CallSubordinateTool struct {
	prompts domain.PromptReader
	logger  *slog.Logger
}

// NewCallSubordinateTool creates the call_subordinate tool.
func NewCallSubordinateTool(prompts domain.PromptReader, logger *slog.Logger) *CallSubordinateTool {
	return &CallSubordinateTool{prompts: prompts, logger: logger}
}

func (t *CallSubordinateTool) Name() string { return "call_subordinate" }
func (t *CallSubordinateTool) Description() string {
	return "Delegate a subtask to a subordinate agent"
}

func (t *CallSubordinateTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: "Delegate a subtask to a subordinate agent. Set reset to start a fresh subordinate instead of continuing the previous conversation.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {
					"type": "string",
					"description": "Task description for the subordinate"
				},
				"reset": {
					"type": ["boolean", "string"],
					"description": "true to replace the current subordinate with a new one"
				},
				"prompt_profile": {
					"type": "string",
					"description": "Optional prompt profile for the subordinate"
				}
			},
			"required": ["message"]
		}`),
	}
}

type callSubordinateParams struct {
	Message string `json:"message"`
	Reset   any    `json:"reset"`
	Profile string `json:"prompt_profile"`
}

func (t *CallSubordinateTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.call_subordinate", t.logger, params,
		func(ctx context.Context, span trace.Span, p callSubordinateParams) (any, error) {
			if err := RequireField("message", p.Message); err != nil {
				return ErrResult("%v", err)
			}
			caller, ok := domain.AgentFromContext(ctx)
			if !ok {
				return nil, errors.New("call_subordinate: no calling agent in context")
			}

			reset := isTrue(p.Reset)
			span.SetAttributes(
				tracer.IntAttr("agent.number", caller.Number()),
				tracer.BoolAttr("delegate.reset", reset),
				tracer.StringAttr("delegate.profile", p.Profile),
			)

			answer, err := caller.Delegate(ctx, p.Message, reset, p.Profile)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				t.logger.Warn("subordinate failed", "agent", caller.Number(), "error", err)
				return TextResult(renderPrompt(ctx, t.prompts, "fw.subordinate_failed.md",
					map[string]any{"error": err.Error()},
					"Subordinate agent failed: "+err.Error())), nil
			}
			return TextResult(answer), nil
		},
	)
}
