package domain

import "context"

// AgentRef is the view of a running agent that tools receive through the
// context of Tool.Execute.
type AgentRef interface {
	// Number is 0 for a session's root agent and increases by one per
	// delegation level.
	Number() int
	// Profile names the prompt profile the agent reads templates from.
	Profile() string
	// Delegate hands message to the agent's subordinate and returns its
	// final answer.
	Delegate(ctx context.Context, message string, reset bool, profile string) (string, error)
}
