package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
	"agent-zero/internal/infra/tracer"
)

// request is one provider call after kwargs have been merged.
type request struct {
	Model    string
	Messages []domain.ChatMessage
	Stop     []string
	Kwargs   map[string]any
}

// transport is the wire protocol behind a Model.
type transport interface {
	complete(ctx context.Context, req request) (string, error)
	stream(ctx context.Context, req request) (<-chan domain.StreamChunk, error)
}

// Options tunes model construction.
type Options struct {
	Attribution Attribution
	// Getenv resolves API keys; defaults to os.Getenv.
	Getenv func(string) string
	// HTTPClient replaces the pooled client built from configuration.
	HTTPClient *http.Client
}

// Model implements domain.ChatModel for every provider in the table.
type Model struct {
	handle    domain.ModelHandle
	adjust    adjustment
	transport transport
	logger    *slog.Logger
}

var _ domain.ChatModel = (*Model)(nil)

// NewModel builds the chat adapter for one configured provider+model pair.
func NewModel(ctx context.Context, cfg config.ModelConfig, opts Options, logger *slog.Logger) (*Model, error) {
	spec, err := LookupProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	apiKey := ResolveAPIKey(cfg.APIKey, spec.ID, getenv)

	adj := adjustmentFor(spec.ID)
	args := adj.apply(callArgs{Provider: spec.ID, Model: cfg.Model}, opts.Attribution)

	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient(cfg)
	}
	client = withHeaders(client, args.Headers)

	dispatch, err := LookupProvider(args.Provider)
	if err != nil {
		return nil, err
	}

	var tr transport
	switch dispatch.protocol {
	case protocolAnthropic:
		tr = newAnthropicTransport(apiKey, cfg.BaseURL, client)
	case protocolGemini:
		gt, err := newGeminiTransport(ctx, apiKey, cfg.BaseURL, client)
		if err != nil {
			return nil, domain.NewDomainError("NewModel", domain.ErrProviderCall, err.Error())
		}
		tr = gt
	default:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = dispatch.BaseURL
		}
		if baseURL == "" {
			return nil, domain.NewDomainError("NewModel", domain.ErrInvalidInput,
				fmt.Sprintf("provider %q requires base_url", spec.ID))
		}
		tr = newOpenAITransport(baseURL, apiKey, client, logger)
	}

	return &Model{
		handle: domain.ModelHandle{
			Provider: spec.ID,
			Name:     args.Model,
			Kwargs:   cfg.Kwargs,
			APIKey:   apiKey,
		},
		adjust:    adj,
		transport: tr,
		logger:    logger,
	}, nil
}

// Handle implements domain.ChatModel.
func (m *Model) Handle() domain.ModelHandle { return m.handle }

func (m *Model) request(messages []domain.ChatMessage, stop []string, kwargs map[string]any) request {
	return request{
		Model:    m.handle.Name,
		Messages: messages,
		Stop:     stop,
		Kwargs:   mergeKwargs(m.handle.Kwargs, kwargs),
	}
}

// Call implements domain.ChatModel.
func (m *Model) Call(ctx context.Context, messages []domain.ChatMessage, stop []string, kwargs map[string]any) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.call",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", m.handle.Provider),
			tracer.StringAttr("llm.model", m.handle.Name),
		),
	)
	defer span.End()

	text, err := m.transport.complete(ctx, m.request(messages, stop, kwargs))
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("%s: %w", m.handle.Key(), err)
	}
	tracer.SetOK(span)
	logCallCompleted(m.logger, m.handle, "call", len(text))
	return text, nil
}

// ChatStream implements domain.ChatModel.
func (m *Model) ChatStream(ctx context.Context, messages []domain.ChatMessage, stop []string, kwargs map[string]any) (<-chan domain.StreamChunk, error) {
	ch, err := m.transport.stream(ctx, m.request(messages, stop, kwargs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.handle.Key(), err)
	}
	m.logger.Debug("llm stream started",
		"provider", m.handle.Provider,
		"model", m.handle.Name,
		"adjustment", m.adjust.String(),
	)
	return ch, nil
}

// Stream implements domain.ChatModel.
func (m *Model) Stream(ctx context.Context, messages []domain.ChatMessage, stop []string, kwargs map[string]any) iter.Seq2[domain.StreamChunk, error] {
	return chunkSeq(ctx, func(ctx context.Context) (<-chan domain.StreamChunk, error) {
		return m.ChatStream(ctx, messages, stop, kwargs)
	})
}

// chunkSeq adapts a channel stream to a single-use sequence. The call is
// issued on first iteration; stopping early cancels it. Empty chunks are
// skipped and a terminal Err chunk is yielded as an error.
func chunkSeq(ctx context.Context, start func(context.Context) (<-chan domain.StreamChunk, error)) iter.Seq2[domain.StreamChunk, error] {
	var used atomic.Bool
	return func(yield func(domain.StreamChunk, error) bool) {
		if used.Swap(true) {
			yield(domain.StreamChunk{}, domain.NewDomainError("Stream", domain.ErrInvalidInput, "stream already consumed"))
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch, err := start(ctx)
		if err != nil {
			yield(domain.StreamChunk{}, err)
			return
		}
		for c := range ch {
			if c.Err != nil {
				yield(domain.StreamChunk{}, c.Err)
				return
			}
			if c.Empty() {
				continue
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}
