package vector

import (
	"context"
	"sort"
	"sync"

	"agent-zero/internal/adapter/memory"
	"agent-zero/internal/domain"
)

// vecIndex is an in-memory index of embedding vectors that avoids SQLite I/O
// on every search. Entries are loaded lazily on the first search and
// updated incrementally on Insert/Delete.
type vecIndex struct {
	mu      sync.RWMutex
	entries map[string]vecEntry // id → document with embedding
	loaded  bool
}

type vecEntry struct {
	doc       domain.Document
	embedding []float32
}

func newVecIndex() *vecIndex {
	return &vecIndex{
		entries: make(map[string]vecEntry),
	}
}

// search returns at most limit documents matching f whose cosine similarity
// to queryVec is at least threshold, best first. Ties keep the older
// document first.
func (idx *vecIndex) search(queryVec []float32, limit int, threshold float64, f memory.Filter) []domain.Document {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	candidates := make([]domain.Document, 0, min(limit*4, len(idx.entries)))
	for _, ve := range idx.entries {
		if !f.Match(ve.doc.Metadata) {
			continue
		}
		sim := float64(cosineSimilarity(queryVec, ve.embedding))
		if sim < threshold {
			continue
		}
		doc := ve.doc
		doc.Score = sim
		candidates = append(candidates, doc)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// put adds or updates an entry in the index.
func (idx *vecIndex) put(doc domain.Document, embedding []float32) {
	if embedding == nil {
		return
	}
	idx.mu.Lock()
	idx.entries[doc.ID] = vecEntry{doc: doc, embedding: embedding}
	idx.mu.Unlock()
}

// remove deletes an entry from the index.
func (idx *vecIndex) remove(id string) {
	idx.mu.Lock()
	delete(idx.entries, id)
	idx.mu.Unlock()
}

// isLoaded returns whether the index has been populated from the database.
func (idx *vecIndex) isLoaded() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.loaded
}

// size returns the number of entries in the index.
func (idx *vecIndex) size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// loadFromDB populates the index from the database. Subsequent calls are
// no-ops.
func (idx *vecIndex) loadFromDB(ctx context.Context, s *Store) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.loaded {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content, metadata, embedding, created_at FROM documents",
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	entries := make(map[string]vecEntry)
	for rows.Next() {
		var (
			doc          domain.Document
			metaJSON     string
			embBlob      []byte
			createdAtStr string
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metaJSON, &embBlob, &createdAtStr); err != nil {
			continue
		}
		emb := bytesToFloat32(embBlob)
		if emb == nil {
			s.logger.Warn("vector store: corrupt embedding", "id", doc.ID)
			continue
		}
		unmarshalDocFields(s.logger, &doc, metaJSON, createdAtStr)
		entries[doc.ID] = vecEntry{doc: doc, embedding: emb}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	idx.entries = entries
	idx.loaded = true
	return nil
}
