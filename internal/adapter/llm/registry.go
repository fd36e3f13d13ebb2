package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
)

// Registry holds named chat models.
type Registry struct {
	mu     sync.RWMutex
	models map[string]domain.ChatModel
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]domain.ChatModel),
	}
}

// Register adds a model under name. Returns error if name already registered.
func (r *Registry) Register(name string, model domain.ChatModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[name]; exists {
		return fmt.Errorf("model %q already registered", name)
	}
	r.models[name] = model
	return nil
}

// Get retrieves a model by name.
func (r *Registry) Get(name string) (domain.ChatModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return m, nil
}

// List returns all registered model names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry constructs every configured model, wrapping each in a
// circuit breaker when enabled.
func BuildRegistry(ctx context.Context, cfg config.LLMConfig, opts Options, logger *slog.Logger) (*Registry, error) {
	if opts.Attribution == (Attribution{}) {
		opts.Attribution = Attribution{Referer: cfg.Attribution.Referer, Title: cfg.Attribution.Title}
	}

	reg := NewRegistry()
	for _, mc := range cfg.Models {
		model, err := NewModel(ctx, mc, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", mc.Name, err)
		}
		var cm domain.ChatModel = model
		if cfg.CircuitBreaker.Enabled {
			cm = NewCircuitBreakerModel(model, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(mc.Name, cm); err != nil {
			return nil, err
		}
		logger.Info("chat model registered",
			"name", mc.Name,
			"provider", model.Handle().Provider,
			"model", model.Handle().Name,
			"has_key", model.Handle().APIKey != "",
		)
	}
	return reg, nil
}
