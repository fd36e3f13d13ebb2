package agent

import (
	"maps"
	"slices"
)

// LoopData is the per-monologue state hooks read and write. Iteration is
// zero-based and counts message loop turns of the current monologue.
type LoopData struct {
	Iteration int

	// UserMessage is the message that started the monologue.
	UserMessage string

	// SystemPrompt holds the system prompt fragments of the current turn.
	SystemPrompt []string

	// ExtrasTemporary are appended to the system prompt for one turn only.
	ExtrasTemporary map[string]string

	// ExtrasPersistent are appended to the system prompt every turn until a
	// hook removes them.
	ExtrasPersistent map[string]string

	// LastResponse is the model output of the previous turn.
	LastResponse string

	oneShot map[string]bool
}

func newLoopData(userMessage string) *LoopData {
	return &LoopData{
		UserMessage:      userMessage,
		ExtrasTemporary:  make(map[string]string),
		ExtrasPersistent: make(map[string]string),
	}
}

// SetOneShot stores a persistent extra that the next prompt assembly
// consumes and removes.
func (l *LoopData) SetOneShot(key, value string) {
	l.ExtrasPersistent[key] = value
	if l.oneShot == nil {
		l.oneShot = make(map[string]bool)
	}
	l.oneShot[key] = true
}

func (l *LoopData) consumeOneShot() {
	for k := range l.oneShot {
		delete(l.ExtrasPersistent, k)
	}
	clear(l.oneShot)
}

// extras returns the extras of this turn, persistent first, each group in
// key order. Temporary extras shadow persistent ones with the same key.
func (l *LoopData) extras() []string {
	var out []string
	for _, k := range sortedKeys(l.ExtrasPersistent) {
		if _, shadowed := l.ExtrasTemporary[k]; shadowed {
			continue
		}
		if v := l.ExtrasPersistent[k]; v != "" {
			out = append(out, v)
		}
	}
	for _, k := range sortedKeys(l.ExtrasTemporary) {
		if v := l.ExtrasTemporary[k]; v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
