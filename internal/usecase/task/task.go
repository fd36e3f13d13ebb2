// Package task runs background work whose result is awaited later, possibly
// by a different step of the agent loop.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle position of a Task.
type State int

const (
	Running State = iota
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task is a handle to a function running on its own goroutine.
type Task[T any] struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	result   T
	err      error
	started  time.Time
	finished time.Time
}

// Start launches fn immediately. The task's context derives from ctx, so
// cancelling either ends it.
func Start[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) *Task[T] {
	if fn == nil {
		panic("task: nil function")
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		name:    name,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   Running,
		started: time.Now(),
	}
	go t.run(taskCtx, fn)
	return t
}

func (t *Task[T]) run(ctx context.Context, fn func(context.Context) (T, error)) {
	var (
		result T
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.name, r)
		}
		t.mu.Lock()
		t.result, t.err = result, err
		if ctx.Err() != nil && t.state == Cancelled {
			if t.err == nil {
				t.err = context.Canceled
			}
		} else {
			t.state = Done
		}
		t.finished = time.Now()
		t.mu.Unlock()
		t.cancel()
		close(t.done)
	}()
	result, err = fn(ctx)
}

// Name returns the name given at Start.
func (t *Task[T]) Name() string { return t.name }

// Done returns a channel closed when the task finishes.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// State returns the current lifecycle state.
func (t *Task[T]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Cancel asks the task to stop. It does not wait.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	if t.state == Running {
		t.state = Cancelled
	}
	t.mu.Unlock()
	t.cancel()
}

// Wait blocks until the task finishes or ctx ends. Waiting on ctx does not
// cancel the task.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome of a finished task. Before completion it
// returns the zero value and an error.
func (t *Task[T]) Result() (T, error) {
	select {
	case <-t.done:
	default:
		var zero T
		return zero, fmt.Errorf("task %q still running", t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Elapsed returns how long the task ran, or has been running.
func (t *Task[T]) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished.IsZero() {
		return time.Since(t.started)
	}
	return t.finished.Sub(t.started)
}
