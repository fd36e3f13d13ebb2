package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-zero/internal/adapter/llm/llmtest"
	"agent-zero/internal/adapter/prompt"
	"agent-zero/internal/domain"
	"agent-zero/internal/usecase/agent"
	"agent-zero/internal/usecase/stream"
	"agent-zero/internal/usecase/tokens"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type funcTool struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error)
}

func (t funcTool) Name() string        { return t.name }
func (t funcTool) Description() string { return t.name }
func (t funcTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t funcTool) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	return t.fn(ctx, args)
}

type toolSet map[string]domain.Tool

func (s toolSet) Get(name string) (domain.Tool, error) {
	if t, ok := s[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
}

func (s toolSet) Schemas() []domain.ToolSchema {
	var out []domain.ToolSchema
	for _, t := range s {
		out = append(out, t.Schema())
	}
	return out
}

var responseTool = funcTool{name: "response", fn: func(_ context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var a struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &a)
	return &domain.ToolResult{Content: a.Text, BreakLoop: true}, nil
}}

func toolCall(name, args string) llmtest.Reply {
	return llmtest.Text(fmt.Sprintf(`{"tool_name": %q, "tool_args": %s}`, name, args))
}

func respond(text string) llmtest.Reply {
	return toolCall("response", fmt.Sprintf(`{"text": %q}`, text))
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []domain.EventType
}

func (p *recordingPublisher) Emit(_ context.Context, typ domain.EventType, _ string, _ any) {
	p.mu.Lock()
	p.types = append(p.types, typ)
	p.mu.Unlock()
}

func (p *recordingPublisher) has(typ domain.EventType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.types {
		if t == typ {
			return true
		}
	}
	return false
}

func newManager(t *testing.T, model *llmtest.Model, dir string, tools ...domain.Tool) (*SessionManager, *recordingPublisher) {
	t.Helper()
	set := toolSet{"response": responseTool}
	for _, tl := range tools {
		set[tl.Name()] = tl
	}
	pub := &recordingPublisher{}
	sm := NewSessionManager(SessionDeps{
		Events:        pub,
		Caller:        stream.New(quietLogger(), stream.WithCounter(tokens.CharCounter{})),
		Prompts:       prompt.NewReader("", quietLogger()),
		Tools:         set,
		Agent:         agent.Config{MaxIterations: 5, ChatModel: model, UtilityModel: model},
		TranscriptDir: dir,
		Logger:        quietLogger(),
	})
	return sm, pub
}

func TestSessionManager_Communicate(t *testing.T) {
	model := llmtest.New(respond("hello there"))
	sm, pub := newManager(t, model, "")
	ctx := context.Background()

	s := sm.Create(ctx)
	assert.Len(t, s.ID, 26, "ulid")

	out, err := sm.Communicate(ctx, s.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)

	entries, version, err := sm.Log(s.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.LogUser, entries[0].Type)
	assert.Positive(t, version)

	more, v2, err := sm.Log(s.ID, version)
	require.NoError(t, err)
	assert.Empty(t, more)
	assert.Equal(t, version, v2)

	for _, typ := range []domain.EventType{domain.EventSessionCreated, domain.EventMessageReceived, domain.EventMessageSent} {
		assert.True(t, pub.has(typ), typ)
	}

	_, err = sm.Communicate(ctx, "missing", "hi")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, _, err = sm.Log("missing", 0)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionManager_CommunicateError(t *testing.T) {
	model := llmtest.New(llmtest.Reply{StartErr: domain.ErrProviderCall})
	sm, pub := newManager(t, model, "")
	s := sm.Create(context.Background())

	_, err := sm.Communicate(context.Background(), s.ID, "hi")
	assert.ErrorIs(t, err, domain.ErrProviderCall)
	assert.False(t, pub.has(domain.EventMessageSent))
}

func TestSessionManager_SerializesMessages(t *testing.T) {
	release := make(chan struct{})
	block := funcTool{name: "block", fn: func(ctx context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
		select {
		case <-release:
			return &domain.ToolResult{Content: "unblocked"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	model := llmtest.New(toolCall("block", `{}`), respond("first"), respond("second"))
	sm, _ := newManager(t, model, "", block)
	s := sm.Create(context.Background())

	var wg sync.WaitGroup
	var first, second string
	var err1, err2 error
	wg.Go(func() { first, err1 = sm.Communicate(context.Background(), s.ID, "one") })

	require.Eventually(t, func() bool { return model.CallCount() == 1 }, time.Second, 5*time.Millisecond)
	wg.Go(func() { second, err2 = sm.Communicate(context.Background(), s.ID, "two") })

	require.Eventually(t, func() bool {
		sm.locker.mu.Lock()
		defer sm.locker.mu.Unlock()
		slot := sm.locker.locks[s.ID]
		return slot != nil && slot.refCount == 2
	}, time.Second, 5*time.Millisecond, "second message waits for the first")

	close(release)
	wg.Wait()

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, "first", first)
	assert.Equal(t, "second", second)
	assert.Equal(t, 3, model.CallCount())
}

func TestSessionManager_InvokeTool(t *testing.T) {
	echo := funcTool{name: "echo", fn: func(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: domain.SessionIDFromContext(ctx) + ":" + string(args)}, nil
	}}
	model := llmtest.New()
	sm, _ := newManager(t, model, "", echo)
	s := sm.Create(context.Background())

	res, err := sm.InvokeTool(context.Background(), s.ID, "echo", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, s.ID+`:{"a":1}`, res.Content)
	assert.Zero(t, model.CallCount())

	_, err = sm.InvokeTool(context.Background(), s.ID, "nope", nil)
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestSessionManager_ResetAndDelete(t *testing.T) {
	model := llmtest.New(respond("a"), respond("b"))
	sm, pub := newManager(t, model, "")
	ctx := context.Background()
	s := sm.Create(ctx)

	_, err := sm.Communicate(ctx, s.ID, "one")
	require.NoError(t, err)
	oldRoot := s.Root()

	require.NoError(t, sm.Reset(ctx, s.ID))
	assert.Equal(t, agent.Terminated, oldRoot.State())
	assert.NotSame(t, oldRoot, s.Root())
	assert.Empty(t, s.Root().History())
	entries, _, err := sm.Log(s.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = sm.Communicate(ctx, s.ID, "two")
	require.NoError(t, err)
	require.Len(t, s.Root().History(), 2)

	root := s.Root()
	require.NoError(t, sm.Delete(ctx, s.ID))
	assert.Equal(t, agent.Terminated, root.State())
	assert.True(t, pub.has(domain.EventSessionDeleted))
	_, err = sm.Get(s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, sm.Delete(ctx, s.ID), domain.ErrSessionNotFound)
	assert.ErrorIs(t, sm.Reset(ctx, s.ID), domain.ErrSessionNotFound)
}

func TestSessionManager_ListAndReap(t *testing.T) {
	sm, _ := newManager(t, llmtest.New(), "")
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	old := sm.Create(ctx)
	now = now.Add(2 * time.Hour)
	fresh := sm.Create(ctx)

	list := sm.ListSessions()
	require.Len(t, list, 2)
	assert.Equal(t, old.ID, list[0].ID)
	assert.Equal(t, fresh.ID, list[1].ID)

	assert.Equal(t, 1, sm.ReapStaleSessions(ctx, time.Hour))
	list = sm.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, fresh.ID, list[0].ID)
}

func TestSessionManager_Transcripts(t *testing.T) {
	dir := t.TempDir()
	sm, _ := newManager(t, llmtest.New(respond("noted")), dir)
	ctx := context.Background()
	s := sm.Create(ctx)

	_, err := sm.Communicate(ctx, s.ID, "remember this")
	require.NoError(t, err)

	tr, err := sm.LoadTranscript(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, tr.ID)
	require.Len(t, tr.History, 2)
	assert.Equal(t, "remember this", tr.History[0].Content)
	assert.NotEmpty(t, tr.Log)

	require.NoError(t, sm.Delete(ctx, s.ID))
	_, err = sm.LoadTranscript(s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, validateSessionID("01J0000000000000000000000"))
	for _, bad := range []string{"", "../x", "a/b", `a\b`, "a\x00b"} {
		assert.Error(t, validateSessionID(bad), "%q", bad)
	}
}
