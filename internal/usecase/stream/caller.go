// Package stream drives one streaming model completion end to end and
// routes each chunk to the caller's sink.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/tracer"
	"agent-zero/internal/usecase/ratelimit"
	"agent-zero/internal/usecase/tokens"
)

// Request is the input of one unified call.
type Request struct {
	System   string
	User     string
	Messages []domain.ChatMessage
	Stop     []string
	Kwargs   map[string]any
}

// Sink receives stream progress. Implement any of ResponseSink,
// ReasoningSink and TokenSink; unimplemented callbacks are skipped.
type Sink any

// ResponseSink receives each response delta and the accumulated response.
type ResponseSink interface {
	OnResponse(ctx context.Context, delta, full string) error
}

// ReasoningSink receives each reasoning delta and the accumulated reasoning.
type ReasoningSink interface {
	OnReasoning(ctx context.Context, delta, full string) error
}

// TokenSink receives every delta with its approximate token count.
type TokenSink interface {
	OnTokens(ctx context.Context, delta string, approx int) error
}

// SinkFuncs adapts plain functions to the sink interfaces. Nil fields are
// skipped.
type SinkFuncs struct {
	Response  func(ctx context.Context, delta, full string) error
	Reasoning func(ctx context.Context, delta, full string) error
	Tokens    func(ctx context.Context, delta string, approx int) error
}

func (s SinkFuncs) OnResponse(ctx context.Context, delta, full string) error {
	if s.Response == nil {
		return nil
	}
	return s.Response(ctx, delta, full)
}

func (s SinkFuncs) OnReasoning(ctx context.Context, delta, full string) error {
	if s.Reasoning == nil {
		return nil
	}
	return s.Reasoning(ctx, delta, full)
}

func (s SinkFuncs) OnTokens(ctx context.Context, delta string, approx int) error {
	if s.Tokens == nil {
		return nil
	}
	return s.Tokens(ctx, delta, approx)
}

// Caller performs unified calls. The zero value is not usable; use New.
type Caller struct {
	limits  *ratelimit.Registry
	counter tokens.Counter
	logger  *slog.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithRateLimits acquires budget from reg before each call.
func WithRateLimits(reg *ratelimit.Registry) Option {
	return func(c *Caller) { c.limits = reg }
}

// WithCounter replaces the default token counter.
func WithCounter(counter tokens.Counter) Option {
	return func(c *Caller) {
		if counter != nil {
			c.counter = counter
		}
	}
}

// New creates a Caller.
func New(logger *slog.Logger, opts ...Option) *Caller {
	c := &Caller{logger: logger}
	for _, o := range opts {
		o(c)
	}
	if c.counter == nil {
		c.counter = tokens.Default()
	}
	return c
}

// BuildMessages assembles the conversation: the system message first when
// non-empty, then the extra messages, then the user message when non-empty.
func BuildMessages(req Request) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(req.Messages)+2)
	if req.System != "" {
		msgs = append(msgs, domain.SystemMessage(req.System))
	}
	msgs = append(msgs, req.Messages...)
	if req.User != "" {
		msgs = append(msgs, domain.UserMessage(req.User))
	}
	return msgs
}

// UnifiedCall streams one completion from model. For every chunk, in
// arrival order, reasoning is handled before response: each non-empty delta
// is accumulated, then passed to the matching sink, then to the token sink.
// A sink error aborts the call and is returned. The accumulated texts are
// returned once the stream is exhausted. Nothing is retried.
func (c *Caller) UnifiedCall(ctx context.Context, model domain.ChatModel, req Request, sink Sink) (domain.CallResult, error) {
	h := model.Handle()
	ctx, span := tracer.StartSpan(ctx, "stream.unified_call",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", h.Provider),
			tracer.StringAttr("llm.model", h.Name),
		),
	)
	defer span.End()

	msgs := BuildMessages(req)

	var reservation *ratelimit.Reservation
	if c.limits != nil {
		var err error
		reservation, err = c.limits.Get(h.Provider, h.Name).Acquire(ctx, tokens.ApproximateMessages(c.counter, msgs))
		if err != nil {
			tracer.RecordError(span, err)
			return domain.CallResult{}, err
		}
	}

	respSink, _ := sink.(ResponseSink)
	reasonSink, _ := sink.(ReasoningSink)
	tokenSink, _ := sink.(TokenSink)

	var response, reasoning strings.Builder
	outputTokens := 0
	result := func() domain.CallResult {
		return domain.CallResult{Response: response.String(), Reasoning: reasoning.String()}
	}
	fail := func(err error) (domain.CallResult, error) {
		reservation.Record(outputTokens)
		tracer.RecordError(span, err)
		return result(), err
	}

	for chunk, err := range model.Stream(ctx, msgs, req.Stop, req.Kwargs) {
		if err != nil {
			return fail(fmt.Errorf("%w: %w", domain.ErrProviderCall, err))
		}

		if d := chunk.ReasoningDelta; d != "" {
			reasoning.WriteString(d)
			if reasonSink != nil {
				if err := reasonSink.OnReasoning(ctx, d, reasoning.String()); err != nil {
					return fail(err)
				}
			}
			n := tokens.ApproximateWith(c.counter, d)
			outputTokens += n
			if tokenSink != nil {
				if err := tokenSink.OnTokens(ctx, d, n); err != nil {
					return fail(err)
				}
			}
		}

		if d := chunk.ResponseDelta; d != "" {
			response.WriteString(d)
			if respSink != nil {
				if err := respSink.OnResponse(ctx, d, response.String()); err != nil {
					return fail(err)
				}
			}
			n := tokens.ApproximateWith(c.counter, d)
			outputTokens += n
			if tokenSink != nil {
				if err := tokenSink.OnTokens(ctx, d, n); err != nil {
					return fail(err)
				}
			}
		}
	}

	reservation.Record(outputTokens)
	span.SetAttributes(
		tracer.IntAttr("llm.response_chars", response.Len()),
		tracer.IntAttr("llm.reasoning_chars", reasoning.Len()),
		tracer.IntAttr("llm.output_tokens_approx", outputTokens),
	)
	tracer.SetOK(span)
	c.logger.Debug("unified call completed",
		"provider", h.Provider,
		"model", h.Name,
		"response_chars", response.Len(),
		"reasoning_chars", reasoning.Len(),
	)
	return result(), nil
}
