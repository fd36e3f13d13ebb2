// Package chromemstore implements domain.MemoryStore on an embedded
// chromem-go collection, in memory or persisted to a directory.
package chromemstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"agent-zero/internal/adapter/memory"
	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
)

// DefaultCollection is the collection documents are stored in.
const DefaultCollection = "memory"

// MetaTimestamp is the metadata key holding a document's insertion time.
const MetaTimestamp = "timestamp"

// Store keeps documents in one chromem collection. Embeddings are computed
// by the configured domain.EmbeddingModel before they reach chromem.
type Store struct {
	db       *chromem.DB
	col      *chromem.Collection
	embedder domain.EmbeddingModel
	logger   *slog.Logger
	now      func() time.Time

	// chromem serializes writes itself; mu keeps delete's existence check
	// and removal atomic.
	mu sync.Mutex
}

// New opens the store. With cfg.PersistPath set, every write is persisted
// to that directory (gzip compressed when cfg.Compress) and existing data
// is loaded; otherwise the store lives in memory only.
func New(cfg config.ChromemConfig, embedder domain.EmbeddingModel, logger *slog.Logger) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: nil embedding model", domain.ErrVectorStore)
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", domain.ErrVectorStore, cfg.PersistPath, err)
		}
		logger.Info("chromem store opened", "path", cfg.PersistPath, "compress", cfg.Compress)
	} else {
		db = chromem.NewDB()
		logger.Info("chromem store opened in memory")
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	col, err := db.GetOrCreateCollection(DefaultCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("%w: collection: %v", domain.ErrVectorStore, err)
	}

	return &Store{
		db:       db,
		col:      col,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Insert implements domain.MemoryStore.
func (s *Store) Insert(ctx context.Context, text string, metadata map[string]string) (string, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: embed: %w", domain.ErrMemoryStore, err)
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if _, ok := meta[MetaTimestamp]; !ok {
		meta[MetaTimestamp] = s.now().UTC().Format(time.RFC3339Nano)
	}

	doc := chromem.Document{
		ID:        uuid.NewString(),
		Content:   text,
		Metadata:  meta,
		Embedding: vec,
	}
	if err := s.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return "", fmt.Errorf("%w: add: %v", domain.ErrMemoryStore, err)
	}
	return doc.ID, nil
}

// SearchSimilarityThreshold implements domain.MemoryStore.
func (s *Store) SearchSimilarityThreshold(ctx context.Context, query string, limit int, threshold float64, filter string) ([]domain.Document, error) {
	f, err := memory.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	where, satisfiable := f.Where()
	if !satisfiable || limit <= 0 {
		return nil, nil
	}

	// chromem rejects nResults above the collection size.
	n := min(limit, s.col.Count())
	if n == 0 {
		return nil, nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrVectorSearch, err)
	}

	results, err := s.col.QueryEmbedding(ctx, vec, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVectorSearch, err)
	}

	docs := make([]domain.Document, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if math.IsNaN(sim) || sim < threshold {
			continue
		}
		docs = append(docs, s.toDocument(r, sim))
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	return docs, nil
}

func (s *Store) toDocument(r chromem.Result, score float64) domain.Document {
	doc := domain.Document{
		ID:       r.ID,
		Content:  r.Content,
		Metadata: r.Metadata,
		Score:    score,
	}
	if ts, ok := r.Metadata[MetaTimestamp]; ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			doc.CreatedAt = t
		} else {
			s.logger.Warn("chromem store: corrupt timestamp", "id", r.ID, "error", err)
		}
	}
	return doc
}

// DeleteDocumentsByIDs implements domain.MemoryStore.
func (s *Store) DeleteDocumentsByIDs(ctx context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.col.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return nil, nil
	}

	if err := s.col.Delete(ctx, nil, nil, existing...); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMemoryDelete, err)
	}
	return existing, nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int { return s.col.Count() }

// Name implements domain.MemoryStore.
func (s *Store) Name() string { return "chromem" }

var _ domain.MemoryStore = (*Store)(nil)
