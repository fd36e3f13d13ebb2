package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-zero/internal/adapter/llm/llmtest"
	"agent-zero/internal/adapter/prompt"
	"agent-zero/internal/domain"
	"agent-zero/internal/usecase/agentlog"
	"agent-zero/internal/usecase/stream"
	"agent-zero/internal/usecase/tokens"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// funcTool is a minimal domain.Tool for loop tests.
type funcTool struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error)
}

func (t funcTool) Name() string        { return t.name }
func (t funcTool) Description() string { return t.name + " tool" }
func (t funcTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
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

func responseTool() domain.Tool {
	return funcTool{name: "response", fn: func(_ context.Context, args json.RawMessage) (*domain.ToolResult, error) {
		var a struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(args, &a)
		return &domain.ToolResult{Content: a.Text, BreakLoop: true}, nil
	}}
}

func delegateTool() domain.Tool {
	return funcTool{name: "call_subordinate", fn: func(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
		var a struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(args, &a)
		ref, ok := domain.AgentFromContext(ctx)
		if !ok {
			return nil, errors.New("no agent in context")
		}
		out, err := ref.Delegate(ctx, a.Message, false, "")
		if err != nil {
			return nil, err
		}
		return &domain.ToolResult{Content: out}, nil
	}}
}

func toolCall(name string, args string) llmtest.Reply {
	return llmtest.Text(fmt.Sprintf(`{"thoughts": ["step"], "tool_name": %q, "tool_args": %s}`, name, args))
}

func respond(text string) llmtest.Reply {
	return toolCall("response", fmt.Sprintf(`{"text": %q}`, text))
}

type fixture struct {
	sc    *Context
	log   *agentlog.Log
	model *llmtest.Model
}

func newFixture(t *testing.T, model *llmtest.Model, tools ...domain.Tool) *fixture {
	t.Helper()
	set := toolSet{}
	for _, tl := range append([]domain.Tool{responseTool()}, tools...) {
		set[tl.Name()] = tl
	}
	log := agentlog.New("s1", nil)
	sc := &Context{
		ID:         "s1",
		Log:        log,
		Caller:     stream.New(quietLogger(), stream.WithCounter(tokens.CharCounter{})),
		Prompts:    prompt.NewReader("", quietLogger()),
		Tools:      set,
		Extensions: NewExtensions(),
		Logger:     quietLogger(),
	}
	return &fixture{sc: sc, log: log, model: model}
}

func (f *fixture) root() *Agent {
	return New(f.sc, Config{MaxIterations: 5, ChatModel: f.model, UtilityModel: f.model})
}

func (f *fixture) logTypes() []domain.LogType {
	items, _ := f.log.Items(0)
	var out []domain.LogType
	for _, it := range items {
		out = append(out, it.Type)
	}
	return out
}

func TestMonologue_ResponseBreaksLoop(t *testing.T) {
	f := newFixture(t, llmtest.New(respond("all done")))
	a := f.root()
	a.AddUserMessage("do it")

	out, err := a.Monologue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "all done", out)
	assert.Equal(t, Idle, a.State())
	assert.Equal(t, 1, f.model.CallCount())

	call := f.model.Calls()[0]
	require.Len(t, call, 2)
	assert.Equal(t, domain.RoleSystem, call[0].Role)
	assert.Contains(t, call[0].Content, "You are agent 0")
	assert.Contains(t, call[0].Content, "## response")
	assert.Equal(t, "do it", call[1].Content)

	hist := a.History()
	require.Len(t, hist, 2)
	assert.Equal(t, domain.RoleAssistant, hist[1].Role)
	assert.Contains(t, f.logTypes(), domain.LogResponse)
}

func TestMonologue_MisformatIsFedBack(t *testing.T) {
	f := newFixture(t, llmtest.New(llmtest.Text("I think the answer is 4"), respond("4")))
	a := f.root()
	a.AddUserMessage("2+2?")

	out, err := a.Monologue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4", out)

	second := f.model.Calls()[1]
	last := second[len(second)-1]
	assert.Equal(t, domain.RoleUser, last.Role)
	assert.Contains(t, last.Content, "not a valid tool request")
	assert.Contains(t, f.logTypes(), domain.LogWarning)
}

func TestMonologue_ToolResultIsFedBack(t *testing.T) {
	echo := funcTool{name: "echo", fn: func(_ context.Context, args json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: "echo:" + string(args)}, nil
	}}
	f := newFixture(t, llmtest.New(toolCall("echo", `{"x": 1}`), respond("ok")), echo)
	a := f.root()
	a.AddUserMessage("go")

	out, err := a.Monologue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	second := f.model.Calls()[1]
	last := second[len(second)-1]
	assert.Contains(t, last.Content, "Tool echo returned")
	assert.Contains(t, last.Content, `echo:{"x": 1}`)
}

func TestMonologue_UnknownToolAndToolError(t *testing.T) {
	failing := funcTool{name: "fail", fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		return nil, errors.New("disk full")
	}}
	f := newFixture(t, llmtest.New(toolCall("nope", `{}`), toolCall("fail", `{}`), respond("gave up")), failing)
	a := f.root()
	a.AddUserMessage("go")

	out, err := a.Monologue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gave up", out)

	calls := f.model.Calls()
	second := calls[1][len(calls[1])-1].Content
	third := calls[2][len(calls[2])-1].Content
	assert.Contains(t, second, "Tool nope does not exist")
	assert.Contains(t, third, "disk full")
}

func TestMonologue_MaxIterations(t *testing.T) {
	fallback := llmtest.Text("no json here")
	model := llmtest.New()
	model.Fallback = &fallback
	f := newFixture(t, model)
	a := New(f.sc, Config{MaxIterations: 3, ChatModel: model})
	a.AddUserMessage("loop")

	_, err := a.Monologue(context.Background())
	assert.ErrorIs(t, err, domain.ErrMaxIterations)
	assert.Equal(t, 3, model.CallCount())
}

func TestMonologue_ModelError(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, llmtest.New(llmtest.Reply{StartErr: boom}))
	a := f.root()
	a.AddUserMessage("x")

	_, err := a.Monologue(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, f.logTypes(), domain.LogError)
	assert.Equal(t, Idle, a.State())
}

func TestMonologue_Cancelled(t *testing.T) {
	f := newFixture(t, llmtest.New(respond("x")))
	a := f.root()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Monologue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.model.CallCount())
}

func TestMonologue_HistoryLimit(t *testing.T) {
	f := newFixture(t, llmtest.New(respond("x")))
	a := New(f.sc, Config{ChatModel: f.model, HistoryLimit: 1})
	a.AddUserMessage("first")
	a.AddUserMessage("second")

	_, err := a.Monologue(context.Background())
	require.NoError(t, err)
	call := f.model.Calls()[0]
	require.Len(t, call, 2)
	assert.Equal(t, "second", call[1].Content)
}

func TestMonologue_HooksRunAtEveryPoint(t *testing.T) {
	f := newFixture(t, llmtest.New(respond("x")))

	var (
		mu   sync.Mutex
		seen []string
	)
	for _, p := range Points {
		f.sc.Extensions.Register(p, HookFunc{HookName: string(p), Fn: func(_ context.Context, a *Agent, loop *LoopData) error {
			mu.Lock()
			seen = append(seen, string(p))
			mu.Unlock()
			return nil
		}})
	}

	a := f.root()
	a.AddUserMessage("x")
	_, err := a.Monologue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"monologue_start",
		"message_loop_start",
		"message_loop_prompts_before",
		"message_loop_prompts_after",
		"message_loop_end",
		"monologue_end",
	}, seen)
}

func TestMonologue_HookFailureDoesNotStopLoop(t *testing.T) {
	f := newFixture(t, llmtest.New(respond("survived")))
	f.sc.Extensions.Register(MessageLoopStart,
		HookFunc{HookName: "panics", HookOrder: 1, Fn: func(context.Context, *Agent, *LoopData) error { panic("kaboom") }},
		HookFunc{HookName: "errors", HookOrder: 2, Fn: func(context.Context, *Agent, *LoopData) error { return errors.New("bad") }},
	)

	a := f.root()
	a.AddUserMessage("x")
	out, err := a.Monologue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "survived", out)

	items, _ := f.log.Items(0)
	var errs []string
	for _, it := range items {
		if it.Type == domain.LogError {
			errs = append(errs, it.Content)
		}
	}
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "kaboom")
	assert.Contains(t, errs[1], "bad")
}

func TestMonologue_ExtrasReachSystemPrompt(t *testing.T) {
	f := newFixture(t, llmtest.New(toolCall("echo", `{}`), respond("x")),
		funcTool{name: "echo", fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
			return &domain.ToolResult{Content: "e"}, nil
		}})
	f.sc.Extensions.Register(MessageLoopPromptsAfter, HookFunc{HookName: "extras", Fn: func(_ context.Context, _ *Agent, loop *LoopData) error {
		if loop.Iteration == 0 {
			loop.ExtrasPersistent["instruments"] = "INSTRUMENTS"
			loop.SetOneShot("solutions", "SOLUTIONS")
		}
		loop.ExtrasTemporary["turn"] = fmt.Sprintf("TURN-%d", loop.Iteration)
		return nil
	}})

	a := f.root()
	a.AddUserMessage("x")
	_, err := a.Monologue(context.Background())
	require.NoError(t, err)

	calls := f.model.Calls()
	first, second := calls[0][0].Content, calls[1][0].Content
	assert.Contains(t, first, "INSTRUMENTS")
	assert.Contains(t, first, "SOLUTIONS")
	assert.Contains(t, first, "TURN-0")
	assert.Contains(t, second, "INSTRUMENTS")
	assert.NotContains(t, second, "SOLUTIONS")
	assert.NotContains(t, second, "TURN-0")
	assert.Contains(t, second, "TURN-1")
}

func TestMonologue_Busy(t *testing.T) {
	f := newFixture(t, llmtest.New())
	a := f.root()
	require.NoError(t, a.begin())
	_, err := a.Monologue(context.Background())
	assert.ErrorIs(t, err, domain.ErrAgentBusy)
	a.end()
}

func TestDelegate_CreatesSubordinate(t *testing.T) {
	f := newFixture(t, llmtest.New(respond("child result")))
	root := f.root()
	root.SetProfile("researcher")

	out, err := root.Delegate(context.Background(), "sub task", false, "")
	require.NoError(t, err)
	assert.Equal(t, "child result", out)

	sub := root.Subordinate()
	require.NotNil(t, sub)
	assert.Equal(t, 1, sub.Number())
	assert.Same(t, root, sub.Superior())
	assert.Equal(t, "default", sub.Profile(), "new subordinates start on the default profile")
	assert.Equal(t, "researcher", root.Profile())

	v, ok := sub.Data(DataSuperior)
	require.True(t, ok)
	assert.Same(t, root, v)
	v, ok = root.Data(DataSubordinate)
	require.True(t, ok)
	assert.Same(t, sub, v)

	call := f.model.Calls()[0]
	assert.Contains(t, call[0].Content, "You are agent 1")
	assert.Contains(t, call[0].Content, "Agent 0")
	assert.Equal(t, "sub task", call[len(call)-1].Content)
}

func TestDelegate_ReuseResetAndProfile(t *testing.T) {
	f := newFixture(t, llmtest.New(respond("one"), respond("two"), respond("three")))
	root := f.root()

	_, err := root.Delegate(context.Background(), "a", false, "")
	require.NoError(t, err)
	first := root.Subordinate()
	assert.Equal(t, 1, first.Number())

	_, err = root.Delegate(context.Background(), "b", false, "hacker")
	require.NoError(t, err)
	assert.Same(t, first, root.Subordinate())
	assert.Equal(t, "hacker", first.Profile())
	assert.Len(t, first.History(), 4, "history kept across delegations")

	_, err = root.Delegate(context.Background(), "c", true, "")
	require.NoError(t, err)
	second := root.Subordinate()
	assert.NotSame(t, first, second)
	assert.Equal(t, Terminated, first.State())
	assert.Equal(t, "default", second.Profile())
	assert.Len(t, second.History(), 2)
	assert.Equal(t, 1, second.Number(), "a replacement child keeps its parent's number + 1")
}

func TestDelegate_ThroughToolAndChildError(t *testing.T) {
	boom := errors.New("child model down")
	model := llmtest.New(
		toolCall("call_subordinate", `{"message": "help"}`),
		llmtest.Reply{StartErr: boom},
		respond("recovered"),
	)
	f := newFixture(t, model, delegateTool())
	root := f.root()
	root.AddUserMessage("start")

	out, err := root.Monologue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)

	calls := model.Calls()
	require.Len(t, calls, 3)
	fed := calls[2][len(calls[2])-1].Content
	assert.True(t, strings.Contains(fed, "child model down"), fed)
	assert.Equal(t, 1, root.Subordinate().Number())
}

func TestDelegate_Terminated(t *testing.T) {
	f := newFixture(t, llmtest.New())
	root := f.root()
	root.Terminate()
	_, err := root.Delegate(context.Background(), "x", false, "")
	assert.ErrorIs(t, err, domain.ErrAgentTerminated)
	_, err = root.Monologue(context.Background())
	assert.ErrorIs(t, err, domain.ErrAgentTerminated)
}

func TestHistoryText(t *testing.T) {
	f := newFixture(t, llmtest.New())
	a := f.root()
	a.AddUserMessage("héllo")
	a.appendHistory(domain.AssistantMessage("world"))

	assert.Equal(t, "user: héllo\nassistant: world", a.HistoryText(0))
	assert.Equal(t, "world", a.HistoryText(5))
	assert.Equal(t, "lo\nassistant: world", a.HistoryText(19))
}

func TestCallUtility(t *testing.T) {
	utility := llmtest.New(llmtest.Text("deploy query"))
	f := newFixture(t, llmtest.New())
	a := New(f.sc, Config{ChatModel: f.model, UtilityModel: utility})

	var streamed strings.Builder
	out, err := a.CallUtility(context.Background(), "sys", "msg", stream.SinkFuncs{
		Response: func(_ context.Context, d, _ string) error { streamed.WriteString(d); return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "deploy query", out)
	assert.Equal(t, "deploy query", streamed.String())
	assert.Zero(t, f.model.CallCount())

	call := utility.Calls()[0]
	require.Len(t, call, 2)
	assert.Equal(t, "sys", call[0].Content)
	assert.Equal(t, "msg", call[1].Content)
}

func TestInvokeTool(t *testing.T) {
	gotAgent := -1
	probe := funcTool{name: "probe", fn: func(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
		if ref, ok := domain.AgentFromContext(ctx); ok {
			gotAgent = ref.Number()
		}
		return &domain.ToolResult{Content: "probed " + string(args) + " in " + domain.SessionIDFromContext(ctx)}, nil
	}}
	f := newFixture(t, llmtest.New(), probe)
	a := f.root()

	res, err := a.InvokeTool(context.Background(), "probe", nil)
	require.NoError(t, err)
	assert.Equal(t, "probed {} in s1", res.Content)
	assert.Equal(t, 0, gotAgent)
	assert.Empty(t, a.History())
	assert.Equal(t, []domain.LogType{domain.LogTool}, f.logTypes())
	assert.Zero(t, f.model.CallCount())

	_, err = a.InvokeTool(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	a.Terminate()
	_, err = a.InvokeTool(context.Background(), "probe", nil)
	assert.ErrorIs(t, err, domain.ErrAgentTerminated)
}
