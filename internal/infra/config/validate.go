package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Provider ids are checked later, when adapters are built.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateMemory(cfg, ve)
	validateObservability(cfg, ve)
	if cfg.Sessions.MaxIdle < 0 {
		ve.Add("sessions.max_idle must be >= 0")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.Timeout <= 0 {
		ve.Add("agent.timeout must be > 0")
	}
	if cfg.Agent.Profile == "" {
		ve.Add("agent.profile must not be empty")
	}
	if cfg.Agent.HistoryLimit < 0 {
		ve.Add("agent.history_limit must be >= 0")
	}

	r := cfg.Agent.Recall
	if !r.Enabled {
		return
	}
	if r.Interval <= 0 {
		ve.Add("agent.recall.interval must be > 0 when recall is enabled")
	}
	if r.HistoryChars <= 0 {
		ve.Add("agent.recall.history_chars must be > 0 when recall is enabled")
	}
	if r.SolutionsCount < 0 || r.InstrumentsCount < 0 {
		ve.Add("agent.recall counts must be >= 0")
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		ve.Add("agent.recall.threshold must be in [0, 1], got %g", r.Threshold)
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, m := range cfg.LLM.Models {
		if m.Name == "" {
			ve.Add("llm.models[%d].name must not be empty", i)
			continue
		}
		if seen[m.Name] {
			ve.Add("llm.models[%d]: duplicate model name %q", i, m.Name)
		}
		seen[m.Name] = true

		if m.Provider == "" {
			ve.Add("llm.models[%d] (%s): provider must not be empty", i, m.Name)
		}
		if m.Model == "" {
			ve.Add("llm.models[%d] (%s): model must not be empty", i, m.Name)
		}
		if m.RateLimit.Requests < 0 || m.RateLimit.Input < 0 || m.RateLimit.Output < 0 {
			ve.Add("llm.models[%d] (%s): rate_limit values must be >= 0", i, m.Name)
		}
	}

	for key, rl := range cfg.LLM.RateLimits {
		if strings.TrimSpace(key) == "" {
			ve.Add("llm.rate_limits: key must not be empty")
		}
		if rl.Requests < 0 || rl.Input < 0 || rl.Output < 0 {
			ve.Add("llm.rate_limits[%s]: values must be >= 0", key)
		}
	}

	if cfg.LLM.ChatModel == "" {
		ve.Add("llm.chat_model must not be empty")
	} else if !seen[cfg.LLM.ChatModel] {
		ve.Add("llm.chat_model %q does not match any configured model", cfg.LLM.ChatModel)
	}
	if cfg.LLM.UtilityModel != "" && !seen[cfg.LLM.UtilityModel] {
		ve.Add("llm.utility_model %q does not match any configured model", cfg.LLM.UtilityModel)
	}

	cb := cfg.LLM.CircuitBreaker
	if cb.Enabled && cb.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

var validMemoryProviders = map[string]bool{
	"sqlite":  true,
	"chromem": true,
}

func validateMemory(cfg *Config, ve *ValidationError) {
	if !validMemoryProviders[cfg.Memory.Provider] {
		ve.Add("memory.provider %q is invalid (want: sqlite, chromem)", cfg.Memory.Provider)
	}
	if cfg.Memory.Provider == "sqlite" && cfg.Memory.DataDir == "" {
		ve.Add("memory.data_dir is required when provider is sqlite")
	}
	if cfg.Memory.Embedding.Provider == "" {
		ve.Add("memory.embedding.provider must not be empty")
	}
	if cfg.Memory.Embedding.Model == "" {
		ve.Add("memory.embedding.model must not be empty")
	}
	if cfg.Memory.Embedding.CacheSize < 0 {
		ve.Add("memory.embedding.cache_size must be >= 0")
	}
}

var validLogFormats = map[string]bool{"": true, "text": true, "json": true}

func validateObservability(cfg *Config, ve *ValidationError) {
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be in [0, 1], got %g", cfg.Tracer.SampleRatio)
	}
}
