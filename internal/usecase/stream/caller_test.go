package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-zero/internal/adapter/llm/llmtest"
	"agent-zero/internal/domain"
	"agent-zero/internal/usecase/ratelimit"
	"agent-zero/internal/usecase/tokens"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCaller(opts ...Option) *Caller {
	return New(testLogger(), append([]Option{WithCounter(tokens.CharCounter{})}, opts...)...)
}

// recordingSink records every callback in order.
type recordingSink struct {
	events []string
	failOn string
}

func (s *recordingSink) OnResponse(_ context.Context, delta, full string) error {
	s.events = append(s.events, "response:"+delta+"|"+full)
	if s.failOn == "response" {
		return errors.New("sink failed")
	}
	return nil
}

func (s *recordingSink) OnReasoning(_ context.Context, delta, full string) error {
	s.events = append(s.events, "reasoning:"+delta+"|"+full)
	return nil
}

func (s *recordingSink) OnTokens(_ context.Context, delta string, _ int) error {
	s.events = append(s.events, "tokens:"+delta)
	return nil
}

func TestBuildMessages(t *testing.T) {
	extra := []domain.ChatMessage{domain.AssistantMessage("earlier")}
	got := BuildMessages(Request{System: "sys", User: "now", Messages: extra})
	require.Len(t, got, 3)
	assert.Equal(t, domain.RoleSystem, got[0].Role)
	assert.Equal(t, "earlier", got[1].Content)
	assert.Equal(t, domain.RoleUser, got[2].Role)

	assert.Empty(t, BuildMessages(Request{}))
	assert.Len(t, BuildMessages(Request{User: "only"}), 1)
}

func TestUnifiedCall_CallbackOrder(t *testing.T) {
	model := llmtest.New(llmtest.Reply{Chunks: []domain.StreamChunk{
		{ReasoningDelta: "think"},
		{ReasoningDelta: "ing", ResponseDelta: "Hel"},
		{ResponseDelta: "lo"},
	}})
	sink := &recordingSink{}

	res, err := newCaller().UnifiedCall(context.Background(), model, Request{System: "s", User: "u"}, sink)
	require.NoError(t, err)
	assert.Equal(t, domain.CallResult{Response: "Hello", Reasoning: "thinking"}, res)
	assert.Equal(t, []string{
		"reasoning:think|think",
		"tokens:think",
		"reasoning:ing|thinking",
		"tokens:ing",
		"response:Hel|Hel",
		"tokens:Hel",
		"response:lo|Hello",
		"tokens:lo",
	}, sink.events)

	calls := model.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []domain.ChatMessage{domain.SystemMessage("s"), domain.UserMessage("u")}, calls[0])
}

func TestUnifiedCall_NoSink(t *testing.T) {
	model := llmtest.New(llmtest.Text("just text"))
	res, err := newCaller().UnifiedCall(context.Background(), model, Request{User: "u"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "just text", res.Response)
	assert.Empty(t, res.Reasoning)
}

func TestUnifiedCall_PartialSinkFuncs(t *testing.T) {
	var responses []string
	sink := SinkFuncs{Response: func(_ context.Context, delta, _ string) error {
		responses = append(responses, delta)
		return nil
	}}
	model := llmtest.New(llmtest.Reply{Chunks: []domain.StreamChunk{{ReasoningDelta: "r"}, {ResponseDelta: "a"}}})
	_, err := newCaller().UnifiedCall(context.Background(), model, Request{User: "u"}, sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, responses)
}

func TestUnifiedCall_SinkErrorAborts(t *testing.T) {
	model := llmtest.New(llmtest.Reply{Chunks: []domain.StreamChunk{{ResponseDelta: "a"}, {ResponseDelta: "b"}}})
	sink := &recordingSink{failOn: "response"}
	res, err := newCaller().UnifiedCall(context.Background(), model, Request{User: "u"}, sink)
	require.Error(t, err)
	assert.Equal(t, "a", res.Response)
	assert.Equal(t, []string{"response:a|a"}, sink.events)
}

func TestUnifiedCall_StreamError(t *testing.T) {
	boom := errors.New("connection reset")
	model := llmtest.New(llmtest.Reply{Chunks: []domain.StreamChunk{{ResponseDelta: "part"}}, Err: boom})
	res, err := newCaller().UnifiedCall(context.Background(), model, Request{User: "u"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, domain.ErrProviderCall)
	assert.Equal(t, "part", res.Response)
	assert.Equal(t, 1, model.CallCount(), "no retry")
}

func TestUnifiedCall_RateLimited(t *testing.T) {
	reg := ratelimit.NewRegistry(func(string, string) ratelimit.Limits {
		return ratelimit.Limits{Requests: 1}
	}, testLogger())
	model := llmtest.New(llmtest.Text("one two"), llmtest.Text("three"))
	c := newCaller(WithRateLimits(reg))

	_, err := c.UnifiedCall(context.Background(), model, Request{User: "abcdefgh"}, nil)
	require.NoError(t, err)

	usage := reg.Get("openai", "test").Usage()
	assert.Equal(t, 1, usage.Requests)
	assert.Equal(t, 2, usage.Input)
	assert.Positive(t, usage.Output)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.UnifiedCall(ctx, model, Request{User: "again"}, nil)
	assert.ErrorIs(t, err, domain.ErrRateLimitWait)
	assert.Equal(t, 1, model.CallCount(), "blocked call never reaches the model")
}
