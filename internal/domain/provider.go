package domain

import (
	"context"
	"iter"
)

// ModelHandle identifies one provider+model pairing and the arguments every
// call through it carries. APIKey is empty when no usable key was resolved.
type ModelHandle struct {
	Provider string         `json:"provider"`
	Name     string         `json:"name"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
	APIKey   string         `json:"-"`
}

// Key returns the rate-limiter key for the handle.
func (h ModelHandle) Key() string {
	return h.Provider + "\\" + h.Name
}

// ChatModel is the adapter contract every chat provider integration satisfies.
type ChatModel interface {
	// Call sends the conversation and returns the complete response text.
	Call(ctx context.Context, messages []ChatMessage, stop []string, kwargs map[string]any) (string, error)
	// Stream returns a lazy, finite, non-restartable sequence of chunks.
	Stream(ctx context.Context, messages []ChatMessage, stop []string, kwargs map[string]any) iter.Seq2[StreamChunk, error]
	// ChatStream starts the call and returns a channel of chunks fed by a
	// background goroutine. The channel is closed when the provider signals
	// completion; a mid-stream failure arrives as a final chunk with Err set.
	ChatStream(ctx context.Context, messages []ChatMessage, stop []string, kwargs map[string]any) (<-chan StreamChunk, error)
	// Handle returns the provider+model pairing the adapter serves.
	Handle() ModelHandle
}

// EmbeddingModel is the adapter contract for text embedding backends.
type EmbeddingModel interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the dimensionality of the vectors, 0 if not yet known.
	Dimensions() int
	// Name returns the provider's identifier (e.g., "openai", "local").
	Name() string
}
