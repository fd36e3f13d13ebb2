package domain

import "context"

type ctxKey int

const (
	sessionKey ctxKey = iota
	agentKey
)

// ContextWithSessionID tags ctx with the ULID of the session being served.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// SessionIDFromContext returns the session tagged by ContextWithSessionID,
// or "" outside a session.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// ContextWithAgent tags ctx with the agent a tool runs on behalf of.
func ContextWithAgent(ctx context.Context, a AgentRef) context.Context {
	return context.WithValue(ctx, agentKey, a)
}

// AgentFromContext returns the calling agent, if any.
func AgentFromContext(ctx context.Context) (AgentRef, bool) {
	a, ok := ctx.Value(agentKey).(AgentRef)
	return a, ok
}
