package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-zero/internal/adapter/llm/llmtest"
	"agent-zero/internal/domain"
)

func TestExtensions_Order(t *testing.T) {
	e := NewExtensions()
	noop := func(context.Context, *Agent, *LoopData) error { return nil }
	e.Register(MessageLoopPromptsAfter,
		HookFunc{HookName: "recall_wait", HookOrder: 91, Fn: noop},
		HookFunc{HookName: "b", HookOrder: 10, Fn: noop},
	)
	e.Register(MessageLoopPromptsAfter,
		HookFunc{HookName: "recall_solutions", HookOrder: 51, Fn: noop},
		HookFunc{HookName: "a", HookOrder: 10, Fn: noop},
	)

	var names []string
	for _, h := range e.Hooks(MessageLoopPromptsAfter) {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"a", "b", "recall_solutions", "recall_wait"}, names)
	assert.Empty(t, e.Hooks(MonologueEnd))
}

func TestExtensions_RunCollectsErrors(t *testing.T) {
	f := newFixture(t, llmtest.New())
	a := f.root()
	e := NewExtensions()

	var ran []string
	e.Register(MessageLoopEnd,
		HookFunc{HookName: "1", HookOrder: 1, Fn: func(context.Context, *Agent, *LoopData) error {
			ran = append(ran, "1")
			panic("x")
		}},
		HookFunc{HookName: "2", HookOrder: 2, Fn: func(context.Context, *Agent, *LoopData) error {
			ran = append(ran, "2")
			return nil
		}},
	)

	errs := e.Run(context.Background(), MessageLoopEnd, a, newLoopData(""))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], domain.ErrHookFailed)
	assert.Equal(t, []string{"1", "2"}, ran)
}

func TestLoopData_Extras(t *testing.T) {
	l := newLoopData("hi")
	l.ExtrasPersistent["b"] = "B"
	l.ExtrasPersistent["a"] = "A"
	l.ExtrasPersistent["empty"] = ""
	l.ExtrasTemporary["a"] = "A2"
	l.ExtrasTemporary["c"] = "C"
	assert.Equal(t, []string{"B", "A2", "C"}, l.extras())

	l.SetOneShot("s", "S")
	assert.Equal(t, "S", l.ExtrasPersistent["s"])
	l.consumeOneShot()
	_, ok := l.ExtrasPersistent["s"]
	assert.False(t, ok)
	assert.Equal(t, "B", l.ExtrasPersistent["b"])
}
