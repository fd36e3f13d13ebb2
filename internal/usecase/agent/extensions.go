package agent

import (
	"cmp"
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"agent-zero/internal/domain"
)

// Point names a place in the monologue where hooks run.
type Point string

// Extension points, in the order a monologue reaches them.
const (
	MonologueStart           Point = "monologue_start"
	MessageLoopStart         Point = "message_loop_start"
	MessageLoopPromptsBefore Point = "message_loop_prompts_before"
	MessageLoopPromptsAfter  Point = "message_loop_prompts_after"
	MessageLoopEnd           Point = "message_loop_end"
	MonologueEnd             Point = "monologue_end"
)

// Points lists every extension point.
var Points = []Point{
	MonologueStart,
	MessageLoopStart,
	MessageLoopPromptsBefore,
	MessageLoopPromptsAfter,
	MessageLoopEnd,
	MonologueEnd,
}

// Hook is a unit of behavior injected at an extension point.
type Hook interface {
	Name() string
	// Order sorts hooks at one point, lowest first.
	Order() int
	Execute(ctx context.Context, a *Agent, loop *LoopData) error
}

// HookFunc adapts a function to Hook.
type HookFunc struct {
	HookName  string
	HookOrder int
	Fn        func(ctx context.Context, a *Agent, loop *LoopData) error
}

func (h HookFunc) Name() string { return h.HookName }
func (h HookFunc) Order() int   { return h.HookOrder }

func (h HookFunc) Execute(ctx context.Context, a *Agent, loop *LoopData) error {
	return h.Fn(ctx, a, loop)
}

// Extensions is the registry of hooks per point. It is safe for concurrent
// use and is shared by every agent of a process.
type Extensions struct {
	mu    sync.RWMutex
	hooks map[Point][]Hook
}

// NewExtensions creates an empty registry.
func NewExtensions() *Extensions {
	return &Extensions{hooks: make(map[Point][]Hook)}
}

// Register adds hooks at point p, keeping the point sorted by order and then
// by name.
func (e *Extensions) Register(p Point, hooks ...Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := append(e.hooks[p], hooks...)
	slices.SortStableFunc(list, func(a, b Hook) int {
		return cmp.Or(cmp.Compare(a.Order(), b.Order()), cmp.Compare(a.Name(), b.Name()))
	})
	e.hooks[p] = list
}

// Hooks returns a copy of the hooks registered at p, in run order.
func (e *Extensions) Hooks(p Point) []Hook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.hooks[p])
}

// Run executes the hooks at p in order. A failing or panicking hook is
// logged to the session log and slog and the remaining hooks still run.
// Run returns the joined hook errors only for callers that care; the
// monologue ignores them.
func (e *Extensions) Run(ctx context.Context, p Point, a *Agent, loop *LoopData) []error {
	var errs []error
	for _, h := range e.Hooks(p) {
		if err := runHook(ctx, h, a, loop); err != nil {
			errs = append(errs, err)
			a.reportHookError(p, h, err)
		}
	}
	return errs
}

func runHook(ctx context.Context, h Hook, a *Agent, loop *LoopData) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v\n%s", domain.ErrHookFailed, h.Name(), r, debug.Stack())
		}
	}()
	if err := h.Execute(ctx, a, loop); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrHookFailed, h.Name(), err)
	}
	return nil
}
