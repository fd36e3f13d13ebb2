package tool

import (
	"context"
	"fmt"
	"strings"

	"agent-zero/internal/adapter/prompt"
	"agent-zero/internal/domain"
)

// Publisher is the subset of the event bus tools publish to.
type Publisher interface {
	Emit(ctx context.Context, typ domain.EventType, sessionID string, payload any)
}

// PublishToolEvent publishes an event for the session carried by ctx. A nil
// publisher is a no-op.
func PublishToolEvent(ctx context.Context, pub Publisher, eventType domain.EventType, payload any) {
	if pub == nil {
		return
	}
	pub.Emit(ctx, eventType, domain.SessionIDFromContext(ctx), payload)
}

// callerProfile returns the prompt profile of the agent running the tool.
func callerProfile(ctx context.Context) string {
	if a, ok := domain.AgentFromContext(ctx); ok {
		return a.Profile()
	}
	return prompt.DefaultProfile
}

// renderPrompt reads a framework prompt for the calling agent, falling back
// to fallback when the template cannot be rendered.
func renderPrompt(ctx context.Context, prompts domain.PromptReader, name string, vars map[string]any, fallback string) string {
	if prompts == nil {
		return fallback
	}
	out, err := prompts.ReadPrompt(callerProfile(ctx), name, vars)
	if err != nil {
		return fallback
	}
	return out
}

// isTrue interprets loosely typed flags: true, "true", " TRUE ".
func isTrue(v any) bool {
	if v == nil {
		return false
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v))) == "true"
}
