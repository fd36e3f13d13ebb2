package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"agent-zero/internal/adapter/llm"
	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
)

// IsLocal reports whether provider+model is served by LocalEmbedder.
func IsLocal(provider, model string) bool {
	return strings.EqualFold(provider, "huggingface") && strings.HasPrefix(model, SentenceTransformersPrefix)
}

// New builds the embedding model described by cfg. The huggingface
// provider with a sentence-transformers/ model runs locally; ollama uses
// its native API; gemini goes through genai; every other provider uses
// the OpenAI-compatible /embeddings endpoint. The result is wrapped in a
// CachedEmbedder when cfg.CacheSize > 0.
func New(ctx context.Context, cfg config.EmbeddingConfig, getenv func(string) string, httpClient *http.Client, logger *slog.Logger) (domain.EmbeddingModel, error) {
	inner, err := newInner(ctx, cfg, getenv, httpClient)
	if err != nil {
		return nil, domain.WrapOp("embedding.New", err)
	}
	logger.Info("embedding model ready",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"backend", inner.Name(),
		"cache_size", cfg.CacheSize,
	)
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

func newInner(ctx context.Context, cfg config.EmbeddingConfig, getenv func(string) string, httpClient *http.Client) (domain.EmbeddingModel, error) {
	if IsLocal(cfg.Provider, cfg.Model) {
		return NewLocalEmbedder(cfg.ModelsDir, cfg.Model)
	}

	spec, err := llm.LookupProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	apiKey := llm.ResolveAPIKey(cfg.APIKey, spec.ID, getenv)
	if httpClient == nil {
		httpClient = defaultHTTPClient
	}

	switch spec.ID {
	case "ollama":
		opts := []OllamaOption{WithOllamaModel(cfg.Model), WithOllamaClient(httpClient)}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOllamaBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
		}
		return NewOllamaEmbedder(opts...), nil
	case "gemini":
		return NewGeminiEmbedder(ctx, apiKey, cfg.Model, cfg.BaseURL, httpClient)
	case "anthropic":
		return nil, fmt.Errorf("%w: %s has no embeddings API", domain.ErrInvalidInput, spec.ID)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = spec.BaseURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%w: provider %s needs base_url", domain.ErrInvalidInput, spec.ID)
	}
	return NewOpenAIEmbedder(apiKey,
		WithOpenAIModel(cfg.Model),
		WithOpenAIBaseURL(strings.TrimSuffix(baseURL, "/")),
		WithOpenAIClient(httpClient),
		WithOpenAIName(spec.ID),
	), nil
}
