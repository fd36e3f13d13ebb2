package ratelimit

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"agent-zero/internal/infra/config"
)

// LimitsFunc returns the caps for a provider+model pair.
type LimitsFunc func(provider, model string) Limits

// Registry owns one Limiter per provider+model key for the life of the
// process. It is constructed once and passed to every call site.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	limits   LimitsFunc
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry. A nil limits func leaves every
// limiter unlimited.
func NewRegistry(limits LimitsFunc, logger *slog.Logger, opts ...Option) *Registry {
	if limits == nil {
		limits = func(string, string) Limits { return Limits{} }
	}
	r := &Registry{
		limiters: make(map[string]*Limiter),
		limits:   limits,
		window:   DefaultWindow,
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Key builds the limiter key for a provider+model pair.
func Key(provider, model string) string {
	return strings.ToLower(provider) + "\\" + model
}

// Get returns the limiter for provider+model, creating it on first use.
// The configured caps are re-applied on every call so configuration changes
// reach existing limiters.
func (r *Registry) Get(provider, model string) *Limiter {
	key := Key(provider, model)
	limits := r.limits(strings.ToLower(provider), model)

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		l.SetLimits(limits)
		return l
	}
	l := newLimiter(key, limits, r.window, r.now, r.logger)
	r.limiters[key] = l
	return l
}

// Len returns the number of limiters created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// LimitsFromConfig resolves caps in order: the model entry's own
// rate_limit, llm.rate_limits["provider/model"], llm.rate_limits["provider"].
// Provider keys are matched case-insensitively. A provider-wide entry caps
// each model of that provider separately.
func LimitsFromConfig(cfg config.LLMConfig) LimitsFunc {
	byKey := make(map[string]config.RateLimitConfig, len(cfg.RateLimits))
	for k, v := range cfg.RateLimits {
		p, m, ok := strings.Cut(strings.TrimSpace(k), "/")
		k = strings.ToLower(p)
		if ok {
			k += "/" + m
		}
		byKey[k] = v
	}

	return func(provider, model string) Limits {
		provider = strings.ToLower(provider)
		for _, m := range cfg.Models {
			if strings.EqualFold(m.Provider, provider) && m.Model == model && !m.RateLimit.IsZero() {
				return limitsOf(m.RateLimit)
			}
		}
		if rl, ok := byKey[provider+"/"+model]; ok {
			return limitsOf(rl)
		}
		return limitsOf(byKey[provider])
	}
}

func limitsOf(rl config.RateLimitConfig) Limits {
	return Limits{Requests: rl.Requests, Input: rl.Input, Output: rl.Output}
}
