package domain

// PromptReader renders named prompt templates for an agent profile.
type PromptReader interface {
	ReadPrompt(profile, name string, vars map[string]any) (string, error)
}
