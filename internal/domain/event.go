package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventSessionCreated  EventType = "session.created"
	EventSessionDeleted  EventType = "session.deleted"
	EventMessageReceived EventType = "message.received"
	EventMessageSent     EventType = "message.sent"

	// Agent activity inside a session.
	EventLogUpdated        EventType = "log.updated"
	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventAgentDelegated    EventType = "agent.delegated"
	EventAgentError        EventType = "agent.error"

	EventMemoryDeleted EventType = "memory.deleted"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// AgentDelegatedPayload is the payload for EventAgentDelegated events.
type AgentDelegatedPayload struct {
	FromAgent int    `json:"from_agent"`
	ToAgent   int    `json:"to_agent"`
	Profile   string `json:"profile"`
	Reset     bool   `json:"reset"`
}

// MemoryDeletedPayload is the payload for EventMemoryDeleted events.
type MemoryDeletedPayload struct {
	IDs []string `json:"ids"`
}
