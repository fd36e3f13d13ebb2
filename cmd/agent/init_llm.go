package main

import (
	"context"
	"fmt"
	"log/slog"

	"agent-zero/internal/adapter/llm"
	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
	"agent-zero/internal/infra/logger"
	"agent-zero/internal/usecase/ratelimit"
	"agent-zero/internal/usecase/stream"
	"agent-zero/internal/usecase/tokens"
)

// LLMComponents holds the model registry and the caller agents stream through.
type LLMComponents struct {
	Registry *llm.Registry
	Chat     domain.ChatModel
	Utility  domain.ChatModel
	Caller   *stream.Caller
}

// initLLM builds every configured model and the rate-limited caller.
func initLLM(ctx context.Context, cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	registry, err := llm.BuildRegistry(ctx, cfg.LLM, llm.Options{}, logger.Component(log, "llm"))
	if err != nil {
		return nil, err
	}

	chat, err := registry.Get(cfg.LLM.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("chat model: %w", err)
	}
	utility, err := registry.Get(cfg.LLM.UtilityModel)
	if err != nil {
		return nil, fmt.Errorf("utility model: %w", err)
	}

	if cb := cfg.LLM.CircuitBreaker; cb.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cb.MaxFailures,
			"timeout", cb.Timeout,
			"interval", cb.Interval,
		)
	}

	limits := ratelimit.NewRegistry(ratelimit.LimitsFromConfig(cfg.LLM), logger.Component(log, "ratelimit"))
	caller := stream.New(log,
		stream.WithRateLimits(limits),
		stream.WithCounter(tokens.Default()),
	)

	return &LLMComponents{
		Registry: registry,
		Chat:     chat,
		Utility:  utility,
		Caller:   caller,
	}, nil
}
