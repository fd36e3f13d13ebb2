package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"agent-zero/internal/adapter/embedding"
	"agent-zero/internal/adapter/memory"
	"agent-zero/internal/adapter/memory/chromemstore"
	"agent-zero/internal/adapter/memory/vector"
	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
	"agent-zero/internal/infra/logger"
)

// initMemory opens the configured memory backend. The returned closer is
// never nil.
func initMemory(ctx context.Context, cfg config.MemoryConfig, log *slog.Logger) (domain.MemoryStore, func() error, error) {
	log = logger.Component(log, "memory")
	noop := func() error { return nil }

	if cfg.Provider == "" || cfg.Provider == "none" {
		log.Info("memory disabled")
		return memory.NewNoopMemory(), noop, nil
	}

	embedder, err := embedding.New(ctx, cfg.Embedding, os.Getenv, nil, log)
	if err != nil {
		return nil, nil, err
	}

	var (
		store  domain.MemoryStore
		closer = noop
	)
	switch cfg.Provider {
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		vs, err := vector.New(filepath.Join(cfg.DataDir, "memory.db"), embedder, log)
		if err != nil {
			return nil, nil, err
		}
		store, closer = vs, vs.Close
	case "chromem":
		cc := cfg.Chromem
		if cc.PersistPath == "" {
			cc.PersistPath = filepath.Join(cfg.DataDir, "chromem")
		}
		cs, err := chromemstore.New(cc, embedder, log)
		if err != nil {
			return nil, nil, err
		}
		store = cs
	default:
		return nil, nil, fmt.Errorf("unknown memory provider %q", cfg.Provider)
	}

	if cfg.QueryCacheTTL > 0 {
		store = memory.NewCachedMemory(store, cfg.QueryCacheTTL)
		log.Info("memory query cache enabled", "ttl", cfg.QueryCacheTTL)
	}
	return store, closer, nil
}
