// Package eventbus fans runtime events (log updates, delegations, memory
// changes) out to in-process subscribers such as the session manager.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"agent-zero/internal/domain"
)

type subscription struct {
	id        uint64
	sessionID string // "" receives every session
	handler   domain.EventHandler
}

func (s subscription) wants(e domain.Event) bool {
	return s.sessionID == "" || s.sessionID == e.SessionID
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
	now     func() time.Time
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger,
		now:    time.Now,
	}
}

// Publish fans out an event to matching typed subscribers and all-event
// subscribers. Each handler runs on its own goroutine; panics are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mu.RLock()
	subs := slices.Concat(b.typed[event.Type], b.allSubs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.wants(event) {
			b.dispatch(ctx, event, sub)
		}
	}
}

// Emit marshals payload and publishes it as an event of type typ for the
// given session. A payload that cannot be marshaled is logged and dropped.
func (b *Bus) Emit(ctx context.Context, typ domain.EventType, sessionID string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			b.logger.Warn("event payload marshal failed", "event", string(typ), "error", err)
			return
		}
		raw = data
	}
	b.Publish(ctx, domain.Event{Type: typ, SessionID: sessionID, Payload: raw})
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"session_id", event.SessionID,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.subscribeTyped(eventType, "", handler)
}

// SubscribeSession registers a handler for events of eventType that belong
// to sessionID only.
func (b *Bus) SubscribeSession(eventType domain.EventType, sessionID string, handler domain.EventHandler) func() {
	return b.subscribeTyped(eventType, sessionID, handler)
}

func (b *Bus) subscribeTyped(eventType domain.EventType, sessionID string, handler domain.EventHandler) func() {
	sub := subscription{id: b.nextID.Add(1), sessionID: sessionID, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = slices.DeleteFunc(b.typed[eventType], func(s subscription) bool {
			return s.id == sub.id
		})
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := subscription{id: b.nextID.Add(1), handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = slices.DeleteFunc(b.allSubs, func(s subscription) bool {
			return s.id == sub.id
		})
	}
}

// Close prevents new publishes and waits for in-flight handlers to finish.
// It is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
