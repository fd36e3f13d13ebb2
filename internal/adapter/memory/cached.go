package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"

	"agent-zero/internal/domain"
)

// CachedMemory wraps a MemoryStore with a TTL-based search cache.
// The cache is invalidated on Insert and DeleteDocumentsByIDs.
type CachedMemory struct {
	inner domain.MemoryStore
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	cache map[string]cachedResult
}

type cachedResult struct {
	docs      []domain.Document
	expiresAt time.Time
}

// NewCachedMemory wraps inner with a search cache using the given TTL.
// A non-positive ttl returns inner unchanged.
func NewCachedMemory(inner domain.MemoryStore, ttl time.Duration) domain.MemoryStore {
	if ttl <= 0 {
		return inner
	}
	return &CachedMemory{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedResult),
	}
}

func (c *CachedMemory) Insert(ctx context.Context, text string, metadata map[string]string) (string, error) {
	id, err := c.inner.Insert(ctx, text, metadata)
	if err == nil {
		c.invalidate()
	}
	return id, err
}

func (c *CachedMemory) SearchSimilarityThreshold(ctx context.Context, query string, limit int, threshold float64, filter string) ([]domain.Document, error) {
	key := cacheKey(query, limit, threshold, filter)

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok && c.now().Before(cached.expiresAt) {
		c.mu.RUnlock()
		return slices.Clone(cached.docs), nil
	}
	c.mu.RUnlock()

	docs, err := c.inner.SearchSimilarityThreshold(ctx, query, limit, threshold, filter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cachedResult{docs: docs, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return slices.Clone(docs), nil
}

func (c *CachedMemory) DeleteDocumentsByIDs(ctx context.Context, ids []string) ([]string, error) {
	removed, err := c.inner.DeleteDocumentsByIDs(ctx, ids)
	if err == nil && len(removed) > 0 {
		c.invalidate()
	}
	return removed, err
}

func (c *CachedMemory) Name() string { return c.inner.Name() }

// Unwrap returns the wrapped store.
func (c *CachedMemory) Unwrap() domain.MemoryStore { return c.inner }

// invalidate clears the entire cache.
func (c *CachedMemory) invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]cachedResult)
	c.mu.Unlock()
}

// CacheSize returns the number of cached searches.
func (c *CachedMemory) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func cacheKey(query string, limit int, threshold float64, filter string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s\x00%d\x00%g\x00%s", query, limit, threshold, filter))
	return hex.EncodeToString(h[:16])
}

var _ domain.MemoryStore = (*CachedMemory)(nil)
