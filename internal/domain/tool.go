package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool and the JSON Schema of its arguments.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult is the outcome of executing a tool.
// BreakLoop ends the calling agent's monologue with Content as its result.
type ToolResult struct {
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
	BreakLoop bool   `json:"break_loop,omitempty"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
}
