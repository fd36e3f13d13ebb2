package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixed(l Limits) LimitsFunc {
	return func(string, string) Limits { return l }
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestAcquire_Unlimited(t *testing.T) {
	reg := NewRegistry(nil, testLogger())
	l := reg.Get("openai", "gpt-4o")
	for i := 0; i < 100; i++ {
		_, err := l.Acquire(context.Background(), 10_000)
		require.NoError(t, err)
	}
	assert.Equal(t, Usage{}, l.Usage(), "unlimited limiter keeps no entries")
	assert.Empty(t, l.entries)

	res, err := l.Acquire(context.Background(), 5)
	require.NoError(t, err)
	res.Record(40)
	assert.Empty(t, l.entries)

	l.SetLimits(Limits{Requests: 2})
	_, err = l.Acquire(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, Usage{Requests: 1, Input: 5}, l.Usage())
}

func TestAcquire_RequestLimitBlocksUntilCtxDone(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewRegistry(fixed(Limits{Requests: 2}), testLogger(), WithClock(clock.Now)).Get("openai", "m")

	for i := 0; i < 2; i++ {
		_, err := l.Acquire(context.Background(), 0)
		require.NoError(t, err)
	}

	_, err := l.Acquire(shortCtx(t), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimitWait)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	clock.Advance(DefaultWindow + time.Second)
	_, err = l.Acquire(context.Background(), 0)
	require.NoError(t, err, "entries older than the window no longer count")
}

func TestAcquire_WaitsForWindowToSlide(t *testing.T) {
	l := NewRegistry(fixed(Limits{Requests: 1}), testLogger(), WithWindow(40*time.Millisecond)).Get("groq", "m")

	_, err := l.Acquire(context.Background(), 0)
	require.NoError(t, err)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = l.Acquire(ctx, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAcquire_InputLimit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewRegistry(fixed(Limits{Input: 100}), testLogger(), WithClock(clock.Now)).Get("openai", "m")

	_, err := l.Acquire(context.Background(), 60)
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), 40)
	require.NoError(t, err)

	_, err = l.Acquire(shortCtx(t), 1)
	assert.ErrorIs(t, err, domain.ErrRateLimitWait)
}

func TestAcquire_OversizeInputAdmittedOnEmptyWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewRegistry(fixed(Limits{Input: 100}), testLogger(), WithClock(clock.Now)).Get("openai", "m")

	_, err := l.Acquire(shortCtx(t), 500)
	require.NoError(t, err)

	_, err = l.Acquire(shortCtx(t), 1)
	assert.ErrorIs(t, err, domain.ErrRateLimitWait)
}

func TestReservationRecord_OutputLimit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewRegistry(fixed(Limits{Output: 50}), testLogger(), WithClock(clock.Now)).Get("openai", "m")

	res, err := l.Acquire(context.Background(), 10)
	require.NoError(t, err)
	res.Record(50)
	res.Record(1000) // ignored
	assert.Equal(t, 50, l.Usage().Output)

	_, err = l.Acquire(shortCtx(t), 10)
	assert.ErrorIs(t, err, domain.ErrRateLimitWait)

	clock.Advance(DefaultWindow + time.Millisecond)
	_, err = l.Acquire(context.Background(), 10)
	assert.NoError(t, err)
}

func TestReservationRecord_NilSafe(t *testing.T) {
	var r *Reservation
	assert.NotPanics(t, func() { r.Record(10) })
}

func TestRegistry_SameLimiterPerKey(t *testing.T) {
	current := Limits{Requests: 1}
	reg := NewRegistry(func(string, string) Limits { return current }, testLogger())

	a := reg.Get("OpenAI", "gpt-4o")
	b := reg.Get("openai", "gpt-4o")
	c := reg.Get("openai", "gpt-4o-mini")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, `openai\gpt-4o`, a.Key())
	assert.Equal(t, 2, reg.Len())

	current = Limits{Requests: 5}
	assert.Equal(t, current, reg.Get("openai", "gpt-4o").Limits())
}

func TestAcquire_Concurrent(t *testing.T) {
	l := NewRegistry(fixed(Limits{Requests: 10}), testLogger()).Get("openai", "m")

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if _, err := l.Acquire(ctx, 1); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, admitted)
}

func TestLimitsFromConfig(t *testing.T) {
	fn := LimitsFromConfig(config.LLMConfig{Models: []config.ModelConfig{
		{Name: "chat", Provider: "OpenAI", Model: "gpt-4o", RateLimit: config.RateLimitConfig{Requests: 3, Input: 1000, Output: 200}},
	}})
	assert.Equal(t, Limits{Requests: 3, Input: 1000, Output: 200}, fn("openai", "gpt-4o"))
	assert.True(t, fn("openai", "other").IsZero())
}

func TestLimitsFromConfig_ProviderFallback(t *testing.T) {
	fn := LimitsFromConfig(config.LLMConfig{
		Models: []config.ModelConfig{
			{Name: "chat", Provider: "groq", Model: "llama3-8b", RateLimit: config.RateLimitConfig{Requests: 5}},
			{Name: "util", Provider: "groq", Model: "mixtral"},
		},
		RateLimits: map[string]config.RateLimitConfig{
			"Groq":         {Requests: 30, Input: 6000},
			"groq/gemma-7": {Output: 100},
		},
	})

	assert.Equal(t, Limits{Requests: 5}, fn("groq", "llama3-8b"), "model entry wins")
	assert.Equal(t, Limits{Output: 100}, fn("GROQ", "gemma-7"), "provider/model key")
	assert.Equal(t, Limits{Requests: 30, Input: 6000}, fn("groq", "mixtral"), "provider-wide")
	assert.True(t, fn("openai", "gpt-4o").IsZero())

	r := NewRegistry(fn, testLogger())
	assert.Equal(t, Limits{Requests: 30, Input: 6000}, r.Get("groq", "mixtral").Limits())
}
