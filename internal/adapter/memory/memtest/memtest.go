// Package memtest provides an in-memory domain.MemoryStore for tests.
package memtest

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"agent-zero/internal/adapter/memory"
	"agent-zero/internal/domain"
)

// Query records one search call.
type Query struct {
	Text      string
	Limit     int
	Threshold float64
	Filter    string
}

// Store scores a document 1 when its content contains any word of the
// query (case-insensitive) and 0 otherwise.
type Store struct {
	// Err, when set, fails every operation.
	Err error

	mu      sync.Mutex
	docs    []domain.Document
	queries []Query
	nextID  int
}

// New returns an empty store.
func New() *Store { return &Store{} }

// Add stores text with the given area and returns its id.
func (s *Store) Add(text, area string) string {
	id, _ := s.Insert(context.Background(), text, map[string]string{domain.MetaArea: area})
	return id
}

// Insert implements domain.MemoryStore.
func (s *Store) Insert(_ context.Context, text string, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.nextID++
	id := fmt.Sprintf("doc-%d", s.nextID)
	s.docs = append(s.docs, domain.Document{ID: id, Content: text, Metadata: maps.Clone(metadata)})
	return id, nil
}

// SearchSimilarityThreshold implements domain.MemoryStore.
func (s *Store) SearchSimilarityThreshold(_ context.Context, query string, limit int, threshold float64, filter string) ([]domain.Document, error) {
	f, err := memory.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, Query{Text: query, Limit: limit, Threshold: threshold, Filter: filter})
	if s.Err != nil {
		return nil, s.Err
	}

	words := strings.Fields(strings.ToLower(query))
	var out []domain.Document
	for _, d := range s.docs {
		if !f.Match(d.Metadata) {
			continue
		}
		score := 0.0
		content := strings.ToLower(d.Content)
		for _, w := range words {
			if strings.Contains(content, w) {
				score = 1
				break
			}
		}
		if score < threshold {
			continue
		}
		d.Score = score
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteDocumentsByIDs implements domain.MemoryStore.
func (s *Store) DeleteDocumentsByIDs(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var removed []string
	kept := s.docs[:0]
	for _, d := range s.docs {
		if want[d.ID] {
			removed = append(removed, d.ID)
			continue
		}
		kept = append(kept, d)
	}
	s.docs = kept
	return removed, nil
}

// Name implements domain.MemoryStore.
func (s *Store) Name() string { return "memtest" }

// Queries returns the searches made so far.
func (s *Store) Queries() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.queries...)
}

// Docs returns the stored documents.
func (s *Store) Docs() []domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Document(nil), s.docs...)
}

var _ domain.MemoryStore = (*Store)(nil)
