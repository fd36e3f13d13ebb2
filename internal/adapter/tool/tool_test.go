package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"agent-zero/internal/adapter/prompt"
	"agent-zero/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPrompts() domain.PromptReader {
	return prompt.NewReader("", quietLogger())
}

// stubTool records the params it was executed with.
type stubTool struct {
	name   string
	schema string

	mu    sync.Mutex
	calls []json.RawMessage
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: s.name, Description: s.Description(), Parameters: json.RawMessage(s.schema)}
}

func (s *stubTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, params)
	s.mu.Unlock()
	return &domain.ToolResult{Content: "ok"}, nil
}

func (s *stubTool) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeAgent implements domain.AgentRef.
type fakeAgent struct {
	number  int
	profile string
	answer  string
	err     error

	gotMessage string
	gotReset   bool
	gotProfile string
	calls      int
}

func (a *fakeAgent) Number() int     { return a.number }
func (a *fakeAgent) Profile() string { return a.profile }

func (a *fakeAgent) Delegate(_ context.Context, message string, reset bool, profile string) (string, error) {
	a.calls++
	a.gotMessage, a.gotReset, a.gotProfile = message, reset, profile
	return a.answer, a.err
}

// recordingPublisher captures emitted events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type      domain.EventType
	SessionID string
	Payload   any
}

func (p *recordingPublisher) Emit(_ context.Context, typ domain.EventType, sessionID string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: typ, SessionID: sessionID, Payload: payload})
}

func (p *recordingPublisher) all() []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedEvent(nil), p.events...)
}

var errOffline = errors.New("offline")
