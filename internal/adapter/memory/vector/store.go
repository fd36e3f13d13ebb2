// Package vector implements domain.MemoryStore on SQLite with an in-memory
// cosine similarity index.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"agent-zero/internal/adapter/memory"
	"agent-zero/internal/domain"
)

// Store persists documents and their embeddings in SQLite. Searches run
// against vecIndex, which is loaded from the database on first use and
// kept in step with Insert and DeleteDocumentsByIDs afterwards.
type Store struct {
	db       *sql.DB
	embedder domain.EmbeddingModel
	logger   *slog.Logger
	dbPath   string
	vecIdx   *vecIndex
	now      func() time.Time
}

// New opens (or creates) a SQLite database at dbPath, runs migrations, and
// returns a ready Store.
func New(dbPath string, embedder domain.EmbeddingModel, logger *slog.Logger) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: nil embedding model", domain.ErrVectorStore)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrVectorStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrVectorStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrVectorStore, err)
	}

	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
		dbPath:   dbPath,
		vecIdx:   newVecIndex(),
		now:      time.Now,
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert implements domain.MemoryStore.
func (s *Store) Insert(ctx context.Context, text string, metadata map[string]string) (string, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: embed: %w", domain.ErrMemoryStore, err)
	}

	doc := domain.Document{
		ID:        uuid.NewString(),
		Content:   text,
		Metadata:  cloneMeta(metadata),
		CreatedAt: s.now().UTC(),
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return "", fmt.Errorf("%w: marshal metadata: %v", domain.ErrMemoryStore, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (id, content, metadata, embedding, created_at) VALUES (?, ?, ?, ?, ?)",
		doc.ID, doc.Content, string(meta), float32ToBytes(vec), doc.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert: %v", domain.ErrMemoryStore, err)
	}

	if s.vecIdx.isLoaded() {
		s.vecIdx.put(doc, vec)
	}
	s.logger.Debug("memory inserted", "id", doc.ID, "area", doc.Area(), "chars", len(text))
	return doc.ID, nil
}

// SearchSimilarityThreshold implements domain.MemoryStore.
func (s *Store) SearchSimilarityThreshold(ctx context.Context, query string, limit int, threshold float64, filter string) ([]domain.Document, error) {
	f, err := memory.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrVectorSearch, err)
	}

	if !s.vecIdx.isLoaded() {
		if err := s.vecIdx.loadFromDB(ctx, s); err != nil {
			return nil, fmt.Errorf("%w: load index: %v", domain.ErrVectorSearch, err)
		}
	}
	return s.vecIdx.search(queryVec, limit, threshold, f), nil
}

// DeleteDocumentsByIDs implements domain.MemoryStore.
func (s *Store) DeleteDocumentsByIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", domain.ErrMemoryDelete, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM documents WHERE id = ?")
	if err != nil {
		return nil, fmt.Errorf("%w: prepare: %v", domain.ErrMemoryDelete, err)
	}
	defer stmt.Close()

	var removed []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: delete %q: %v", domain.ErrMemoryDelete, id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed = append(removed, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", domain.ErrMemoryDelete, err)
	}
	for _, id := range removed {
		s.vecIdx.remove(id)
	}
	return removed, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrVectorStore, err)
	}
	return n, nil
}

// Name implements domain.MemoryStore.
func (s *Store) Name() string { return "sqlite" }

var _ domain.MemoryStore = (*Store)(nil)

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
