package memory

import (
	"context"

	"agent-zero/internal/domain"
)

// NoopMemory backs memory.provider "none": searches find nothing and
// inserts fail with domain.ErrMemoryUnavailable.
type NoopMemory struct{}

// NewNoopMemory creates a noop memory store.
func NewNoopMemory() *NoopMemory { return &NoopMemory{} }

func (n *NoopMemory) Insert(_ context.Context, _ string, _ map[string]string) (string, error) {
	return "", domain.ErrMemoryUnavailable
}

func (n *NoopMemory) SearchSimilarityThreshold(_ context.Context, _ string, _ int, _ float64, filter string) ([]domain.Document, error) {
	if _, err := ParseFilter(filter); err != nil {
		return nil, err
	}
	return nil, nil
}

func (n *NoopMemory) DeleteDocumentsByIDs(_ context.Context, _ []string) ([]string, error) {
	return nil, nil
}

func (n *NoopMemory) Name() string { return "none" }

var _ domain.MemoryStore = (*NoopMemory)(nil)
