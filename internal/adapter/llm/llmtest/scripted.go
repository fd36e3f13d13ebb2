// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"iter"
	"strings"
	"sync"

	"agent-zero/internal/domain"
)

// Reply is one scripted model turn. Err, when set, is delivered after the
// chunks as a mid-stream failure; StartErr fails the call before any chunk.
type Reply struct {
	Chunks   []domain.StreamChunk
	Err      error
	StartErr error
}

// Text builds a reply that streams s as response deltas split on spaces.
func Text(s string) Reply {
	var chunks []domain.StreamChunk
	words := strings.SplitAfter(s, " ")
	for _, w := range words {
		if w != "" {
			chunks = append(chunks, domain.StreamChunk{ResponseDelta: w})
		}
	}
	return Reply{Chunks: chunks}
}

// Model replays Replies in order. When the script runs out, Fallback is
// used, or an empty reply when it is unset.
type Model struct {
	HandleValue domain.ModelHandle
	Replies     []Reply
	Fallback    *Reply

	mu    sync.Mutex
	idx   int
	calls [][]domain.ChatMessage
}

var _ domain.ChatModel = (*Model)(nil)

// New returns a model handle openai\test replaying replies.
func New(replies ...Reply) *Model {
	return &Model{
		HandleValue: domain.ModelHandle{Provider: "openai", Name: "test"},
		Replies:     replies,
	}
}

func (m *Model) next(messages []domain.ChatMessage) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.ChatMessage, len(messages))
	copy(cp, messages)
	m.calls = append(m.calls, cp)
	if m.idx < len(m.Replies) {
		r := m.Replies[m.idx]
		m.idx++
		return r
	}
	if m.Fallback != nil {
		return *m.Fallback
	}
	return Reply{}
}

// Calls returns the conversations the model has received.
func (m *Model) Calls() [][]domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]domain.ChatMessage, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many calls were made.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Handle implements domain.ChatModel.
func (m *Model) Handle() domain.ModelHandle { return m.HandleValue }

// Call implements domain.ChatModel.
func (m *Model) Call(_ context.Context, messages []domain.ChatMessage, _ []string, _ map[string]any) (string, error) {
	r := m.next(messages)
	if r.StartErr != nil {
		return "", r.StartErr
	}
	var sb strings.Builder
	for _, c := range r.Chunks {
		sb.WriteString(c.ResponseDelta)
	}
	return sb.String(), r.Err
}

// ChatStream implements domain.ChatModel.
func (m *Model) ChatStream(ctx context.Context, messages []domain.ChatMessage, _ []string, _ map[string]any) (<-chan domain.StreamChunk, error) {
	r := m.next(messages)
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	ch := make(chan domain.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range r.Chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if r.Err != nil {
			select {
			case ch <- domain.StreamChunk{Err: r.Err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Stream implements domain.ChatModel.
func (m *Model) Stream(ctx context.Context, messages []domain.ChatMessage, stop []string, kwargs map[string]any) iter.Seq2[domain.StreamChunk, error] {
	return func(yield func(domain.StreamChunk, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := m.ChatStream(ctx, messages, stop, kwargs)
		if err != nil {
			yield(domain.StreamChunk{}, err)
			return
		}
		for c := range ch {
			if c.Err != nil {
				yield(domain.StreamChunk{}, c.Err)
				return
			}
			if c.Empty() {
				continue
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}
