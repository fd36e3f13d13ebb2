package usecase

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/tracer"
	"agent-zero/internal/usecase/agent"
	"agent-zero/internal/usecase/agentlog"
	"agent-zero/internal/usecase/stream"
)

// SessionDeps are the collaborators shared by the agents of every session.
type SessionDeps struct {
	Events     agent.Publisher // optional
	Caller     *stream.Caller
	Prompts    domain.PromptReader
	Memory     domain.MemoryStore // optional
	Tools      domain.ToolExecutor
	Extensions *agent.Extensions
	Agent      agent.Config

	// Timeout bounds one Communicate call; 0 means no limit.
	Timeout time.Duration
	// TranscriptDir receives a JSON transcript after every exchange; empty
	// disables transcripts.
	TranscriptDir string
	Logger        *slog.Logger
}

// Session is one conversation: a root agent, the subordinates it spawns and
// the log they share.
type Session struct {
	ID        string
	CreatedAt time.Time
	Log       *agentlog.Log

	sc *agent.Context

	mu        sync.RWMutex
	root      *agent.Agent
	updatedAt time.Time
}

// Root returns the session's current root agent.
func (s *Session) Root() *agent.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// UpdatedAt returns the time of the last exchange.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func (s *Session) touch(t time.Time) {
	s.mu.Lock()
	s.updatedAt = t
	s.mu.Unlock()
}

// SessionInfo summarizes a session for listings.
type SessionInfo struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LogVersion int64     `json:"log_version"`
}

// Transcript is the persisted record of a session.
type Transcript struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	History   []domain.ChatMessage `json:"history"`
	Log       []agentlog.Entry     `json:"log"`
}

// SessionManager owns the live sessions and serializes the messages sent to
// each of them.
type SessionManager struct {
	deps   SessionDeps
	locker *SessionLocker
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager with no sessions.
func NewSessionManager(deps SessionDeps) *SessionManager {
	if deps.Extensions == nil {
		deps.Extensions = agent.NewExtensions()
	}
	return &SessionManager{
		deps:     deps,
		locker:   NewSessionLocker(),
		logger:   deps.Logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session with a fresh root agent.
func (sm *SessionManager) Create(ctx context.Context) *Session {
	now := sm.now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()

	s := &Session{
		ID:        id,
		CreatedAt: now,
		updatedAt: now,
		Log:       agentlog.New(id, sm.deps.Events),
	}
	s.sc = &agent.Context{
		ID:         id,
		Log:        s.Log,
		Events:     sm.deps.Events,
		Caller:     sm.deps.Caller,
		Prompts:    sm.deps.Prompts,
		Memory:     sm.deps.Memory,
		Tools:      sm.deps.Tools,
		Extensions: sm.deps.Extensions,
		Logger:     sm.logger,
		Now:        sm.now,
	}
	s.root = agent.New(s.sc, sm.deps.Agent)

	sm.mu.Lock()
	sm.sessions[id] = s
	sm.mu.Unlock()

	sm.emit(ctx, domain.EventSessionCreated, id, map[string]string{"session_id": id})
	sm.logger.Info("session created", "session_id", id)
	return s
}

// Get returns an existing session or ErrSessionNotFound.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	s, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("SessionManager.Get", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// ListSessions returns every live session, oldest first.
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, SessionInfo{
			ID:         s.ID,
			CreatedAt:  s.CreatedAt,
			UpdatedAt:  s.UpdatedAt(),
			LogVersion: s.Log.Version(),
		})
	}
	sm.mu.RUnlock()

	slices.SortFunc(out, func(a, b SessionInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Communicate submits a user message to the session's root agent and
// returns the agent's final answer. Messages to one session run one at a
// time in arrival order.
func (sm *SessionManager) Communicate(ctx context.Context, sessionID, text string) (string, error) {
	s, err := sm.Get(sessionID)
	if err != nil {
		return "", err
	}

	if sm.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sm.deps.Timeout)
		defer cancel()
	}
	ctx = domain.ContextWithSessionID(ctx, sessionID)
	ctx, span := tracer.StartSpan(ctx, "session.communicate")
	defer span.End()

	unlock, err := sm.locker.Lock(ctx, sessionID)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	defer unlock()

	sm.emit(ctx, domain.EventMessageReceived, sessionID, map[string]string{"content": text})

	root := s.Root()
	root.AddUserMessage(text)
	answer, err := root.Monologue(ctx)
	s.touch(sm.now())
	sm.saveTranscriptQuiet(s)

	if err != nil {
		tracer.RecordError(span, err)
		sm.logger.Warn("monologue failed", "session_id", sessionID, "error", err)
		return "", domain.WrapOp("SessionManager.Communicate", err)
	}

	sm.emit(ctx, domain.EventMessageSent, sessionID, map[string]string{"content": answer})
	tracer.SetOK(span)
	return answer, nil
}

// Log returns the session's log entries changed after version since, and
// the current version to poll from next.
func (sm *SessionManager) Log(sessionID string, since int64) ([]agentlog.Entry, int64, error) {
	s, err := sm.Get(sessionID)
	if err != nil {
		return nil, 0, err
	}
	entries, version := s.Log.Items(since)
	return entries, version, nil
}

// InvokeTool runs the named tool on the session's root agent without
// involving the model.
func (sm *SessionManager) InvokeTool(ctx context.Context, sessionID, name string, args json.RawMessage) (*domain.ToolResult, error) {
	s, err := sm.Get(sessionID)
	if err != nil {
		return nil, err
	}

	unlock, err := sm.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := s.Root().InvokeTool(ctx, name, args)
	s.touch(sm.now())
	if err != nil {
		return nil, domain.WrapOp("SessionManager.InvokeTool", err)
	}
	return res, nil
}

// Reset terminates the session's agents and starts over with an empty
// root agent and log. A running monologue stops before its next iteration.
func (sm *SessionManager) Reset(ctx context.Context, sessionID string) error {
	s, err := sm.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.root
	s.root = agent.New(s.sc, sm.deps.Agent)
	s.mu.Unlock()
	old.Terminate()
	s.Log.Reset()

	sm.logger.Info("session reset", "session_id", sessionID)
	return nil
}

// Delete terminates a session's agents and forgets the session.
func (sm *SessionManager) Delete(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[sessionID]
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()
	if !ok {
		return domain.NewDomainError("SessionManager.Delete", domain.ErrSessionNotFound, sessionID)
	}

	s.Root().Terminate()
	sm.emit(ctx, domain.EventSessionDeleted, sessionID, map[string]string{"session_id": sessionID})

	if path, err := sm.transcriptPath(sessionID); err == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove transcript: %w", err)
		}
	}
	return nil
}

// ReapStaleSessions deletes sessions idle for longer than maxAge and returns
// how many were removed.
func (sm *SessionManager) ReapStaleSessions(ctx context.Context, maxAge time.Duration) int {
	cutoff := sm.now().Add(-maxAge)

	sm.mu.RLock()
	var stale []string
	for id, s := range sm.sessions {
		if s.UpdatedAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	sm.mu.RUnlock()

	reaped := 0
	for _, id := range stale {
		if err := sm.Delete(ctx, id); err != nil {
			sm.logger.Warn("reap session failed", "session_id", id, "error", err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		sm.logger.Info("stale sessions reaped", "count", reaped)
	}
	return reaped
}

// RunReaper reaps idle sessions every interval until ctx ends.
func (sm *SessionManager) RunReaper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.ReapStaleSessions(ctx, maxAge)
		}
	}
}

// Close terminates every session's agents.
func (sm *SessionManager) Close() {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range sm.sessions {
		s.Root().Terminate()
	}
}

// SaveTranscript writes the session's history and log to TranscriptDir.
func (sm *SessionManager) SaveTranscript(sessionID string) error {
	s, err := sm.Get(sessionID)
	if err != nil {
		return err
	}
	path, err := sm.transcriptPath(sessionID)
	if err != nil {
		return domain.NewDomainError("SessionManager.SaveTranscript", err, sessionID)
	}

	entries, _ := s.Log.Items(0)
	data, err := json.MarshalIndent(Transcript{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt(),
		History:   s.Root().History(),
		Log:       entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	if err := os.MkdirAll(sm.deps.TranscriptDir, 0o700); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadTranscript reads a transcript written by SaveTranscript.
func (sm *SessionManager) LoadTranscript(sessionID string) (*Transcript, error) {
	path, err := sm.transcriptPath(sessionID)
	if err != nil {
		return nil, domain.NewDomainError("SessionManager.LoadTranscript", err, sessionID)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, domain.NewDomainError("SessionManager.LoadTranscript", domain.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return &t, nil
}

func (sm *SessionManager) saveTranscriptQuiet(s *Session) {
	if sm.deps.TranscriptDir == "" {
		return
	}
	if err := sm.SaveTranscript(s.ID); err != nil {
		sm.logger.Warn("save transcript failed", "session_id", s.ID, "error", err)
	}
}

func (sm *SessionManager) transcriptPath(sessionID string) (string, error) {
	if sm.deps.TranscriptDir == "" {
		return "", fmt.Errorf("transcripts disabled")
	}
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(sm.deps.TranscriptDir, sessionID+".json"), nil
}

// validateSessionID checks that a session ID is safe to use as a file name.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\\x00") || strings.Contains(id, "..") {
		return fmt.Errorf("session ID is not a plain name: %q", id)
	}
	return nil
}

func (sm *SessionManager) emit(ctx context.Context, typ domain.EventType, sessionID string, payload any) {
	if sm.deps.Events != nil {
		sm.deps.Events.Emit(ctx, typ, sessionID, payload)
	}
}
