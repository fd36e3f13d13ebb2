package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerModel wraps a ChatModel with circuit breaker protection.
// When the wrapped model fails repeatedly, the circuit opens and subsequent
// calls fail fast without reaching the provider. Errors are surfaced, never
// retried.
type CircuitBreakerModel struct {
	inner   domain.ChatModel
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

var _ domain.ChatModel = (*CircuitBreakerModel)(nil)

// NewCircuitBreakerModel wraps inner with a circuit breaker.
// Zero-valued settings fall back to the defaults above.
func NewCircuitBreakerModel(inner domain.ChatModel, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerModel {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "llm:" + inner.Handle().Key(),
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &CircuitBreakerModel{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

func (m *CircuitBreakerModel) wrapOpen(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: model %q: %w", domain.ErrCircuitOpen, m.inner.Handle().Key(), err)
	}
	return err
}

// Call implements domain.ChatModel. Calls are routed through the breaker.
func (m *CircuitBreakerModel) Call(ctx context.Context, messages []domain.ChatMessage, stop []string, kwargs map[string]any) (string, error) {
	out, err := m.breaker.Execute(func() (any, error) {
		return m.inner.Call(ctx, messages, stop, kwargs)
	})
	if err != nil {
		return "", m.wrapOpen(err)
	}
	text, _ := out.(string)
	return text, nil
}

// ChatStream implements domain.ChatModel. The breaker protects the initial
// connection; failures after it are delivered through the channel and do
// not trip the breaker.
func (m *CircuitBreakerModel) ChatStream(ctx context.Context, messages []domain.ChatMessage, stop []string, kwargs map[string]any) (<-chan domain.StreamChunk, error) {
	out, err := m.breaker.Execute(func() (any, error) {
		return m.inner.ChatStream(ctx, messages, stop, kwargs)
	})
	if err != nil {
		return nil, m.wrapOpen(err)
	}
	ch, _ := out.(<-chan domain.StreamChunk)
	return ch, nil
}

// Stream implements domain.ChatModel.
func (m *CircuitBreakerModel) Stream(ctx context.Context, messages []domain.ChatMessage, stop []string, kwargs map[string]any) iter.Seq2[domain.StreamChunk, error] {
	return chunkSeq(ctx, func(ctx context.Context) (<-chan domain.StreamChunk, error) {
		return m.ChatStream(ctx, messages, stop, kwargs)
	})
}

// Handle implements domain.ChatModel.
func (m *CircuitBreakerModel) Handle() domain.ModelHandle { return m.inner.Handle() }

// State returns the current circuit breaker state for monitoring.
func (m *CircuitBreakerModel) State() gobreaker.State {
	return m.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (m *CircuitBreakerModel) Counts() gobreaker.Counts {
	return m.breaker.Counts()
}

// --- Connection Pooling ---

// Default connection pool settings optimized for LLM API usage patterns:
// few hosts, high concurrency, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling
// suited to long streaming calls.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// Default provider timeouts.
const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewHTTPClient creates an *http.Client with pooled transport and timeout
// defaults. There is no overall client timeout; streams end with the
// caller's context.
func NewHTTPClient(cfg config.ModelConfig) *http.Client {
	connTimeout := cfg.ConnTimeout
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	respTimeout := cfg.RespTimeout
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	return &http.Client{
		Transport: NewPooledTransport(connTimeout, respTimeout, cfg.Pool),
	}
}
