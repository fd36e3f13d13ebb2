package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-zero/internal/domain"
)

// trackingMemory counts searches and returns canned documents.
type trackingMemory struct {
	docs        []domain.Document
	searchCalls atomic.Int32
}

func (m *trackingMemory) Insert(_ context.Context, text string, _ map[string]string) (string, error) {
	m.docs = append(m.docs, domain.Document{ID: text, Content: text})
	return text, nil
}

func (m *trackingMemory) SearchSimilarityThreshold(_ context.Context, _ string, limit int, _ float64, _ string) ([]domain.Document, error) {
	m.searchCalls.Add(1)
	return m.docs[:min(limit, len(m.docs))], nil
}

func (m *trackingMemory) DeleteDocumentsByIDs(_ context.Context, ids []string) ([]string, error) {
	var removed []string
	for _, id := range ids {
		for i, d := range m.docs {
			if d.ID == id {
				m.docs = append(m.docs[:i], m.docs[i+1:]...)
				removed = append(removed, id)
				break
			}
		}
	}
	return removed, nil
}

func (m *trackingMemory) Name() string { return "tracking" }

func TestCachedMemory_HitAndInvalidate(t *testing.T) {
	inner := &trackingMemory{}
	ctx := context.Background()
	c := NewCachedMemory(inner, time.Minute).(*CachedMemory)

	_, err := c.Insert(ctx, "a", nil)
	require.NoError(t, err)

	d1, err := c.SearchSimilarityThreshold(ctx, "q", 5, 0.5, "")
	require.NoError(t, err)
	d2, err := c.SearchSimilarityThreshold(ctx, "q", 5, 0.5, "")
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.EqualValues(t, 1, inner.searchCalls.Load())
	assert.Equal(t, 1, c.CacheSize())

	_, err = c.SearchSimilarityThreshold(ctx, "q", 5, 0.7, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.searchCalls.Load(), "threshold is part of the key")

	_, err = c.Insert(ctx, "b", nil)
	require.NoError(t, err)
	assert.Zero(t, c.CacheSize())

	docs, err := c.SearchSimilarityThreshold(ctx, "q", 5, 0.5, "")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	removed, err := c.DeleteDocumentsByIDs(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, removed)
	assert.Zero(t, c.CacheSize())
}

func TestCachedMemory_Expires(t *testing.T) {
	inner := &trackingMemory{}
	c := NewCachedMemory(inner, time.Second).(*CachedMemory)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = c.SearchSimilarityThreshold(ctx, "q", 1, 0, "")
	now = now.Add(2 * time.Second)
	_, _ = c.SearchSimilarityThreshold(ctx, "q", 1, 0, "")
	assert.EqualValues(t, 2, inner.searchCalls.Load())
}

func TestCachedMemory_Disabled(t *testing.T) {
	inner := &trackingMemory{}
	assert.Same(t, inner, NewCachedMemory(inner, 0))
}

func TestNoopMemory(t *testing.T) {
	n := NewNoopMemory()
	ctx := context.Background()
	_, err := n.Insert(ctx, "x", nil)
	assert.ErrorIs(t, err, domain.ErrMemoryUnavailable)

	docs, err := n.SearchSimilarityThreshold(ctx, "x", 3, 0.5, "area == 'main'")
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = n.SearchSimilarityThreshold(ctx, "x", 3, 0.5, "area")
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)

	removed, err := n.DeleteDocumentsByIDs(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, "none", n.Name())
}
