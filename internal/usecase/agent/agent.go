// Package agent implements the reasoning loop of one agent and the
// superior/subordinate hierarchy agents form when they delegate work.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"agent-zero/internal/domain"
	"agent-zero/internal/usecase/stream"
)

// Data bag keys shared with hooks.
const (
	DataSuperior    = "_superior"
	DataSubordinate = "_subordinate"
)

// State is the lifecycle position of an agent.
type State int

const (
	Idle State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Publisher is the subset of the event bus agents publish to.
type Publisher interface {
	Emit(ctx context.Context, typ domain.EventType, sessionID string, payload any)
}

// Config is the per-agent configuration. Subordinates copy their
// superior's config.
type Config struct {
	Profile       string
	MaxIterations int
	HistoryLimit  int // messages sent to the model, 0 = all
	ChatModel     domain.ChatModel
	UtilityModel  domain.ChatModel
}

// Context holds the collaborators shared by every agent of one session.
type Context struct {
	ID         string
	Log        domain.SessionLog
	Events     Publisher // optional
	Caller     *stream.Caller
	Prompts    domain.PromptReader
	Memory     domain.MemoryStore
	Tools      domain.ToolExecutor
	Extensions *Extensions
	Logger     *slog.Logger
	Now        func() time.Time
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Context) emit(ctx context.Context, typ domain.EventType, payload any) {
	if c.Events != nil {
		c.Events.Emit(ctx, typ, c.ID, payload)
	}
}

// Agent is one node of a session's agent hierarchy. The superior link is
// non-owning; an agent owns its subordinate and terminates it on reset.
type Agent struct {
	number   int
	sc       *Context
	superior *Agent
	logger   *slog.Logger

	mu          sync.Mutex
	cfg         Config
	state       State
	subordinate *Agent
	history     []domain.ChatMessage
	data        map[string]any
}

// New creates the root agent (number 0) of a session.
func New(sc *Context, cfg Config) *Agent {
	return newAgent(sc, cfg, 0, nil)
}

func newAgent(sc *Context, cfg Config, number int, superior *Agent) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 25
	}
	if cfg.Profile == "" {
		cfg.Profile = "default"
	}
	if sc.Extensions == nil {
		sc.Extensions = NewExtensions()
	}
	a := &Agent{
		number:   number,
		sc:       sc,
		superior: superior,
		logger:   sc.Logger.With("session_id", sc.ID, "agent", number),
		cfg:      cfg,
		data:     make(map[string]any),
	}
	if superior != nil {
		a.data[DataSuperior] = superior
	}
	return a
}

// Number implements domain.AgentRef.
func (a *Agent) Number() int { return a.number }

// Name is the display name used in log headings.
func (a *Agent) Name() string { return fmt.Sprintf("Agent %d", a.number) }

// Context returns the session context the agent belongs to.
func (a *Agent) Context() *Context { return a.sc }

// Superior returns the delegating agent, or nil for the root.
func (a *Agent) Superior() *Agent { return a.superior }

// Profile implements domain.AgentRef.
func (a *Agent) Profile() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Profile
}

// SetProfile switches the prompt profile used from the next prompt read.
func (a *Agent) SetProfile(p string) {
	a.mu.Lock()
	a.cfg.Profile = p
	a.mu.Unlock()
}

// Config returns a copy of the agent's configuration.
func (a *Agent) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// State returns the lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subordinate returns the current child, or nil.
func (a *Agent) Subordinate() *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subordinate
}

// Data returns the value stored under key in the agent's data bag.
func (a *Agent) Data(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.data[key]
	return v, ok
}

// SetData stores v under key. A nil v is stored as an explicit nil.
func (a *Agent) SetData(key string, v any) {
	a.mu.Lock()
	a.data[key] = v
	a.mu.Unlock()
}

// History returns a copy of the conversation history.
func (a *Agent) History() []domain.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.history)
}

func (a *Agent) appendHistory(msgs ...domain.ChatMessage) {
	now := a.sc.now()
	a.mu.Lock()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		a.history = append(a.history, m)
	}
	a.mu.Unlock()
}

// AddUserMessage appends a user message to the history and the session log.
func (a *Agent) AddUserMessage(text string) {
	content, err := a.ReadPrompt("fw.user_message.md", map[string]any{"message": text})
	if err != nil {
		content = text
	}
	a.appendHistory(domain.UserMessage(content))
	a.sc.Log.Log(domain.LogUser, a.Name()+": user message", text, nil)
}

// lastUserText returns the content of the most recent user message.
func (a *Agent) lastUserText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.history) - 1; i >= 0; i-- {
		if a.history[i].Role == domain.RoleUser {
			return a.history[i].Content
		}
	}
	return ""
}

// HistoryText renders the history as plain text and returns at most the
// last maxChars characters of it. maxChars <= 0 returns everything.
func (a *Agent) HistoryText(maxChars int) string {
	var sb strings.Builder
	for _, m := range a.History() {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	text := strings.TrimRight(sb.String(), "\n")
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[len(runes)-maxChars:])
}

// ReadPrompt renders a template for the agent's current profile.
func (a *Agent) ReadPrompt(name string, vars map[string]any) (string, error) {
	return a.sc.Prompts.ReadPrompt(a.Profile(), name, vars)
}

// CallUtility sends one system+message exchange to the utility model.
func (a *Agent) CallUtility(ctx context.Context, system, message string, sink stream.Sink) (string, error) {
	cfg := a.Config()
	model := cfg.UtilityModel
	if model == nil {
		model = cfg.ChatModel
	}
	res, err := a.sc.Caller.UnifiedCall(ctx, model, stream.Request{System: system, User: message}, sink)
	if err != nil {
		return "", err
	}
	return res.Response, nil
}

// Delegate implements domain.AgentRef. The subordinate is created on first
// use or when reset is set; a reset terminates and drops the previous one.
// New subordinates start with the "default" profile and profile, when not
// empty, overrides it.
func (a *Agent) Delegate(ctx context.Context, message string, reset bool, profile string) (string, error) {
	a.mu.Lock()
	if a.state == Terminated {
		a.mu.Unlock()
		return "", fmt.Errorf("%w: %s", domain.ErrAgentTerminated, a.Name())
	}
	sub := a.subordinate
	created := sub == nil || reset
	if created {
		if sub != nil {
			sub.Terminate()
		}
		cfg := a.cfg
		cfg.Profile = "default"
		sub = newAgent(a.sc, cfg, a.number+1, a)
		a.subordinate = sub
		a.data[DataSubordinate] = sub
	}
	a.mu.Unlock()

	if created {
		a.logger.Debug("subordinate created", "subordinate", sub.number, "reset", reset)
	}
	a.sc.emit(ctx, domain.EventAgentDelegated, domain.AgentDelegatedPayload{
		FromAgent: a.number,
		ToAgent:   sub.number,
		Profile:   profile,
		Reset:     reset,
	})

	sub.AddUserMessage(message)
	if profile != "" {
		sub.SetProfile(profile)
	}

	out, err := sub.Monologue(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrDelegation, sub.Name(), err)
	}
	return out, nil
}

// Terminate moves the agent and its subordinates to Terminated. A running
// monologue stops before its next iteration.
func (a *Agent) Terminate() {
	a.mu.Lock()
	a.state = Terminated
	sub := a.subordinate
	a.mu.Unlock()
	if sub != nil {
		sub.Terminate()
	}
}

// begin marks the agent Running. It fails if the agent is already running
// or has been terminated.
func (a *Agent) begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case Running:
		return fmt.Errorf("%w: %s", domain.ErrAgentBusy, a.Name())
	case Terminated:
		return fmt.Errorf("%w: %s", domain.ErrAgentTerminated, a.Name())
	}
	a.state = Running
	return nil
}

func (a *Agent) end() {
	a.mu.Lock()
	if a.state == Running {
		a.state = Idle
	}
	a.mu.Unlock()
}

func (a *Agent) terminated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == Terminated
}

func (a *Agent) reportHookError(p Point, h Hook, err error) {
	a.logger.Error("extension hook failed", "point", string(p), "hook", h.Name(), "error", err)
	a.sc.Log.Log(domain.LogError, fmt.Sprintf("%s: extension %s failed", a.Name(), h.Name()), err.Error(),
		map[string]any{"point": string(p)})
	a.sc.emit(context.Background(), domain.EventAgentError, map[string]string{
		"agent": fmt.Sprint(a.number),
		"hook":  h.Name(),
		"error": err.Error(),
	})
}

// snapshotData copies the data bag.
func (a *Agent) snapshotData() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.data)
}

var _ domain.AgentRef = (*Agent)(nil)
