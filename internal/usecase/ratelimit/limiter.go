// Package ratelimit throttles model calls per provider+model over a rolling
// window, tracking requests, input tokens and output tokens separately.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"agent-zero/internal/domain"
)

// DefaultWindow is the rolling window every limit is measured over.
const DefaultWindow = 60 * time.Second

// minWait keeps a blocked caller from waking in a tight loop.
const minWait = 10 * time.Millisecond

// Limits caps usage within one window. Zero disables a dimension.
type Limits struct {
	Requests int
	Input    int
	Output   int
}

// IsZero reports whether every dimension is unlimited.
func (l Limits) IsZero() bool {
	return l.Requests == 0 && l.Input == 0 && l.Output == 0
}

// Usage is the amount consumed inside the current window.
type Usage struct {
	Requests int
	Input    int
	Output   int
}

type entry struct {
	at       time.Time
	requests int
	input    int
	output   int
}

// Limiter is the rolling-window limiter for one provider+model key.
// The mutex guards bookkeeping only; callers perform network I/O after
// Acquire returns.
type Limiter struct {
	key    string
	window time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	limits  Limits
	entries []entry

	waitLog rate.Sometimes
}

func newLimiter(key string, limits Limits, window time.Duration, now func() time.Time, logger *slog.Logger) *Limiter {
	return &Limiter{
		key:     key,
		window:  window,
		now:     now,
		logger:  logger,
		limits:  limits,
		waitLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Key returns the provider+model key the limiter serves.
func (l *Limiter) Key() string { return l.key }

// Limits returns the configured caps.
func (l *Limiter) Limits() Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

// SetLimits replaces the caps; entries already in the window are kept.
// An unlimited limiter keeps no entries, so raising caps on it starts from
// an empty window.
func (l *Limiter) SetLimits(limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = limits
}

// Usage returns what has been consumed inside the current window.
func (l *Limiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return l.totalsLocked()
}

// Reservation is the admission granted by Acquire.
type Reservation struct {
	limiter  *Limiter
	once     sync.Once
	Input    int
	Admitted time.Time
}

// Record adds the actual output tokens of the call to the window. Only the
// first call has an effect.
func (r *Reservation) Record(outputTokens int) {
	if r == nil || r.limiter == nil {
		return
	}
	r.once.Do(func() {
		if outputTokens <= 0 {
			return
		}
		l := r.limiter
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.limits.IsZero() {
			return
		}
		l.entries = append(l.entries, entry{at: l.now(), output: outputTokens})
	})
}

// Acquire blocks until every enabled dimension admits one more request
// carrying estimatedInput tokens, then records both. It fails only when ctx
// ends first, with an error wrapping domain.ErrRateLimitWait and ctx.Err().
func (l *Limiter) Acquire(ctx context.Context, estimatedInput int) (*Reservation, error) {
	if estimatedInput < 0 {
		estimatedInput = 0
	}
	for {
		wait, ok := l.tryAdmit(estimatedInput)
		if ok {
			return &Reservation{limiter: l, Input: estimatedInput, Admitted: l.now()}, nil
		}

		l.waitLog.Do(func() {
			l.logger.Info("rate limit reached, waiting",
				"key", l.key,
				"wait", wait.Round(time.Millisecond),
			)
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrRateLimitWait, l.key, ctx.Err())
		case <-timer.C:
		}
	}
}

// tryAdmit records the request when it fits, otherwise returns how long to
// wait before the oldest entry leaves the window.
func (l *Limiter) tryAdmit(input int) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Nothing to count against; keep no entries.
	if l.limits.IsZero() {
		l.entries = nil
		return 0, true
	}

	now := l.now()
	l.pruneLocked(now)
	if l.admitsLocked(input) {
		l.entries = append(l.entries, entry{at: now, requests: 1, input: input})
		return 0, true
	}

	wait := minWait
	if len(l.entries) > 0 {
		if d := l.entries[0].at.Add(l.window).Sub(now); d > wait {
			wait = d
		}
	}
	return wait, false
}

func (l *Limiter) admitsLocked(input int) bool {
	used := l.totalsLocked()
	lim := l.limits
	if lim.Requests > 0 && used.Requests+1 > lim.Requests {
		return false
	}
	// An estimate larger than the whole budget is let through once the
	// window holds no other input.
	if lim.Input > 0 && used.Input > 0 && used.Input+input > lim.Input {
		return false
	}
	if lim.Output > 0 && used.Output >= lim.Output {
		return false
	}
	return true
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.entries) && !l.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0], l.entries[i:]...)
	}
}

func (l *Limiter) totalsLocked() Usage {
	var u Usage
	for _, e := range l.entries {
		u.Requests += e.requests
		u.Input += e.input
		u.Output += e.output
	}
	return u
}
