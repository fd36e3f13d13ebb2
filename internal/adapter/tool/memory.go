package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/tracer"
)

// Defaults applied when the model omits search arguments.
const (
	DefaultLoadThreshold   = 0.7
	DefaultLoadLimit       = 10
	DefaultForgetThreshold = 0.75
	forgetBatch            = 100
)

// MemoryTools groups the tools that operate on the shared memory store.
type MemoryTools struct {
	store   domain.MemoryStore
	prompts domain.PromptReader
	events  Publisher
	logger  *slog.Logger
}

// NewMemoryTools binds the memory tools to store. events may be nil.
func NewMemoryTools(store domain.MemoryStore, prompts domain.PromptReader, events Publisher, logger *slog.Logger) *MemoryTools {
	return &MemoryTools{store: store, prompts: prompts, events: events, logger: logger}
}

// All returns every memory tool.
func (m *MemoryTools) All() []domain.Tool {
	return []domain.Tool{
		&MemorySaveTool{m},
		&MemoryLoadTool{m},
		&MemoryDeleteTool{m},
		&MemoryForgetTool{m},
	}
}

func (m *MemoryTools) deleted(ctx context.Context, ids []string) string {
	if len(ids) > 0 {
		PublishToolEvent(ctx, m.events, domain.EventMemoryDeleted, domain.MemoryDeletedPayload{IDs: ids})
	}
	n := strconv.Itoa(len(ids))
	return renderPrompt(ctx, m.prompts, "fw.memories_deleted.md",
		map[string]any{"memory_count": n}, n+" memories deleted.")
}

// MemorySaveTool stores a piece of text in memory.
type MemorySaveTool struct{ *MemoryTools }

func (t *MemorySaveTool) Name() string        { return "memory_save" }
func (t *MemorySaveTool) Description() string { return "Save text to long-term memory" }

func (t *MemorySaveTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "Text to remember"},
				"area": {"type": "string", "description": "Memory area, default main"},
				"metadata": {
					"type": "object",
					"additionalProperties": {"type": ["string", "number", "boolean"]},
					"description": "Extra metadata stored with the memory"
				}
			},
			"required": ["text"]
		}`),
	}
}

type memorySaveParams struct {
	Text     string            `json:"text"`
	Area     string            `json:"area"`
	Metadata map[string]string `json:"metadata"`
}

func (t *MemorySaveTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.memory_save", t.logger, params,
		func(ctx context.Context, span trace.Span, p memorySaveParams) (any, error) {
			if err := RequireField("text", p.Text); err != nil {
				return ErrResult("%v", err)
			}
			meta := make(map[string]string, len(p.Metadata)+1)
			maps.Copy(meta, p.Metadata)
			meta[domain.MetaArea] = cmp.Or(p.Area, domain.AreaMain)
			span.SetAttributes(tracer.StringAttr("memory.area", meta[domain.MetaArea]))

			id, err := t.store.Insert(ctx, p.Text, meta)
			if err != nil {
				return nil, err
			}
			return renderPrompt(ctx, t.prompts, "fw.memory_saved.md",
				map[string]any{"memory_id": id}, "Memory saved with id "+id+"."), nil
		},
	)
}

// MemoryLoadTool searches memory by similarity.
type MemoryLoadTool struct{ *MemoryTools }

func (t *MemoryLoadTool) Name() string        { return "memory_load" }
func (t *MemoryLoadTool) Description() string { return "Search long-term memory" }

func (t *MemoryLoadTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: "Search long-term memory for entries similar to query. filter narrows by metadata, e.g. area == 'solutions'.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"threshold": {"type": ["number", "string"], "description": "Minimum similarity 0-1, default 0.7"},
				"limit": {"type": ["integer", "string"], "description": "Maximum results, default 10"},
				"filter": {"type": "string"}
			},
			"required": ["query"]
		}`),
	}
}

type memoryLoadParams struct {
	Query     string   `json:"query"`
	Threshold *float64 `json:"threshold"`
	Limit     int      `json:"limit"`
	Filter    string   `json:"filter"`
}

func (t *MemoryLoadTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.memory_load", t.logger, params,
		func(ctx context.Context, span trace.Span, p memoryLoadParams) (any, error) {
			threshold := DefaultLoadThreshold
			if p.Threshold != nil {
				threshold = *p.Threshold
			}
			limit := cmp.Or(p.Limit, DefaultLoadLimit)
			if err := ValidateAll(
				RequireField("query", p.Query),
				ValidateFloatRange("threshold", threshold, 0, 1),
				ValidateRange("limit", limit, 1, 100),
			); err != nil {
				return ErrResult("%v", err)
			}

			docs, err := t.store.SearchSimilarityThreshold(ctx, p.Query, limit, threshold, p.Filter)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(
				tracer.IntAttr("memory.results", len(docs)),
				tracer.Float64Attr("memory.threshold", threshold),
			)
			if len(docs) == 0 {
				return renderPrompt(ctx, t.prompts, "fw.memories_not_found.md",
					map[string]any{"query": p.Query},
					fmt.Sprintf("No memories found for query %q.", p.Query)), nil
			}
			return FormatDocuments(docs), nil
		},
	)
}

// MemoryDeleteTool removes memories by id.
type MemoryDeleteTool struct{ *MemoryTools }

func (t *MemoryDeleteTool) Name() string        { return "memory_delete" }
func (t *MemoryDeleteTool) Description() string { return "Delete memories by id" }

func (t *MemoryDeleteTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"ids": {"type": "string", "description": "Comma-separated memory ids"}
			},
			"required": ["ids"]
		}`),
	}
}

type memoryDeleteParams struct {
	IDs string `json:"ids"`
}

func (t *MemoryDeleteTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.memory_delete", t.logger, params,
		func(ctx context.Context, span trace.Span, p memoryDeleteParams) (any, error) {
			var ids []string
			for id := range strings.SplitSeq(p.IDs, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
			removed, err := t.store.DeleteDocumentsByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("memory.deleted", len(removed)))
			return t.deleted(ctx, removed), nil
		},
	)
}

// MemoryForgetTool deletes every memory similar to a query.
type MemoryForgetTool struct{ *MemoryTools }

func (t *MemoryForgetTool) Name() string        { return "memory_forget" }
func (t *MemoryForgetTool) Description() string { return "Delete memories similar to a query" }

func (t *MemoryForgetTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: "Delete memories similar to query. filter narrows by metadata.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"threshold": {"type": ["number", "string"], "description": "Minimum similarity 0-1, default 0.75"},
				"filter": {"type": "string"}
			},
			"required": ["query"]
		}`),
	}
}

type memoryForgetParams struct {
	Query     string   `json:"query"`
	Threshold *float64 `json:"threshold"`
	Filter    string   `json:"filter"`
}

func (t *MemoryForgetTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.memory_forget", t.logger, params,
		func(ctx context.Context, span trace.Span, p memoryForgetParams) (any, error) {
			threshold := DefaultForgetThreshold
			if p.Threshold != nil {
				threshold = *p.Threshold
			}
			if err := ValidateAll(
				RequireField("query", p.Query),
				ValidateFloatRange("threshold", threshold, 0, 1),
			); err != nil {
				return ErrResult("%v", err)
			}

			docs, err := t.store.SearchSimilarityThreshold(ctx, p.Query, forgetBatch, threshold, p.Filter)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(docs))
			for i, d := range docs {
				ids[i] = d.ID
			}
			removed, err := t.store.DeleteDocumentsByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("memory.deleted", len(removed)))
			return t.deleted(ctx, removed), nil
		},
	)
}

// FormatDocuments renders documents as plain text blocks: metadata lines in
// key order, then the content.
func FormatDocuments(docs []domain.Document) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "id: %s\n", d.ID)
		for _, k := range slices.Sorted(maps.Keys(d.Metadata)) {
			fmt.Fprintf(&b, "%s: %s\n", k, d.Metadata[k])
		}
		b.WriteString("Content: ")
		b.WriteString(d.Content)
	}
	return b.String()
}
