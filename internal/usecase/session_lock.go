package usecase

import (
	"context"
	"fmt"
	"sync"
)

// SessionLocker serializes operations per session: two messages sent to one
// session run one after the other, different sessions run in parallel.
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*sessionSlot
}

// sessionSlot is a one-token semaphore shared by everyone waiting on a
// session. It is dropped once nobody holds or waits for it.
type sessionSlot struct {
	token    chan struct{}
	refCount int
}

// NewSessionLocker creates a new session locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{
		locks: make(map[string]*sessionSlot),
	}
}

// Lock blocks until the session is free or ctx ends. The returned unlock
// function must be called exactly once.
func (sl *SessionLocker) Lock(ctx context.Context, sessionID string) (unlock func(), err error) {
	sl.mu.Lock()
	slot, ok := sl.locks[sessionID]
	if !ok {
		slot = &sessionSlot{token: make(chan struct{}, 1)}
		sl.locks[sessionID] = slot
	}
	slot.refCount++
	sl.mu.Unlock()

	select {
	case slot.token <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.token
				sl.release(sessionID, slot)
			})
		}, nil
	case <-ctx.Done():
		sl.release(sessionID, slot)
		return nil, fmt.Errorf("session lock: %w", ctx.Err())
	}
}

func (sl *SessionLocker) release(sessionID string, slot *sessionSlot) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	slot.refCount--
	if slot.refCount == 0 {
		delete(sl.locks, sessionID)
	}
}

// ActiveCount returns the number of sessions with active or pending locks.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.locks)
}
