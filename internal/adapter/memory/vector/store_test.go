package vector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-zero/internal/domain"
)

// axisEmbedder maps known words onto fixed unit axes so similarities are
// predictable: identical words score 1, different words 0.
type axisEmbedder struct {
	axes map[string]int
	err  error
}

func (e *axisEmbedder) vec(text string) []float32 {
	v := make([]float32, 4)
	if i, ok := e.axes[text]; ok {
		v[i] = 1
	} else {
		v[3] = 1
	}
	return v
}

func (e *axisEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e *axisEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec(text), nil
}

func (e *axisEmbedder) Dimensions() int { return 4 }
func (e *axisEmbedder) Name() string    { return "axis" }

func newEmbedder() *axisEmbedder {
	return &axisEmbedder{axes: map[string]int{"alpha": 0, "beta": 1, "gamma": 2}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, embedder domain.EmbeddingModel) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	s, err := New(dbPath, embedder, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}

func TestStore_InsertAndSearch(t *testing.T) {
	s, _ := newTestStore(t, newEmbedder())
	ctx := context.Background()

	id, err := s.Insert(ctx, "alpha", map[string]string{"area": "solutions"})
	require.NoError(t, err)
	assert.Len(t, id, 36, "uuid")

	_, err = s.Insert(ctx, "beta", map[string]string{"area": "solutions"})
	require.NoError(t, err)

	docs, err := s.SearchSimilarityThreshold(ctx, "alpha", 5, 0.6, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, "alpha", docs[0].Content)
	assert.InDelta(t, 1.0, docs[0].Score, 1e-6)
	assert.Equal(t, "solutions", docs[0].Area())
	assert.False(t, docs[0].CreatedAt.IsZero())

	docs, err = s.SearchSimilarityThreshold(ctx, "alpha", 5, 0, "")
	require.NoError(t, err)
	assert.Len(t, docs, 2, "threshold 0 admits orthogonal vectors")
	assert.Equal(t, "alpha", docs[0].Content)
}

func TestStore_Filter(t *testing.T) {
	s, _ := newTestStore(t, newEmbedder())
	ctx := context.Background()

	_, err := s.Insert(ctx, "alpha", map[string]string{"area": "solutions"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "alpha", map[string]string{"area": "instruments"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "alpha", nil)
	require.NoError(t, err)

	docs, err := s.SearchSimilarityThreshold(ctx, "alpha", 5, 0.6, "area == 'instruments'")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "instruments", docs[0].Area())

	docs, err = s.SearchSimilarityThreshold(ctx, "alpha", 2, 0.6, "")
	require.NoError(t, err)
	assert.Len(t, docs, 2, "limit applies")

	_, err = s.SearchSimilarityThreshold(ctx, "alpha", 2, 0.6, "area = solutions")
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)
}

func TestStore_ZeroLimit(t *testing.T) {
	s, _ := newTestStore(t, newEmbedder())
	ctx := context.Background()
	_, err := s.Insert(ctx, "alpha", nil)
	require.NoError(t, err)

	docs, err := s.SearchSimilarityThreshold(ctx, "alpha", 0, 0, "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t, newEmbedder())
	ctx := context.Background()

	a, err := s.Insert(ctx, "alpha", nil)
	require.NoError(t, err)
	b, err := s.Insert(ctx, "beta", nil)
	require.NoError(t, err)

	// Load the index so deletes must update it.
	_, err = s.SearchSimilarityThreshold(ctx, "alpha", 5, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 2, s.vecIdx.size())

	removed, err := s.DeleteDocumentsByIDs(ctx, []string{a, "missing", a, " "})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, removed)
	assert.Equal(t, 1, s.vecIdx.size())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	docs, err := s.SearchSimilarityThreshold(ctx, "beta", 5, 0.6, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, b, docs[0].ID)

	removed, err = s.DeleteDocumentsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestStore_Persistence(t *testing.T) {
	emb := newEmbedder()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s1, err := New(dbPath, emb, quietLogger())
	require.NoError(t, err)
	id, err := s1.Insert(ctx, "gamma", map[string]string{"area": "main"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := New(dbPath, emb, quietLogger())
	require.NoError(t, err)
	defer s2.Close()

	docs, err := s2.SearchSimilarityThreshold(ctx, "gamma", 1, 0.9, "area == 'main'")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, map[string]string{"area": "main"}, docs[0].Metadata)
}

func TestStore_EmbeddingFailure(t *testing.T) {
	emb := newEmbedder()
	s, _ := newTestStore(t, emb)
	ctx := context.Background()

	emb.err = errors.New("model offline")
	_, err := s.Insert(ctx, "alpha", nil)
	assert.ErrorIs(t, err, domain.ErrMemoryStore)

	_, err = s.SearchSimilarityThreshold(ctx, "alpha", 1, 0, "")
	assert.ErrorIs(t, err, domain.ErrVectorSearch)
}

func TestNew_NilEmbedder(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "x.db"), nil, quietLogger())
	assert.ErrorIs(t, err, domain.ErrVectorStore)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 0}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, cosineSimilarity(nil, nil))
}

func TestFloat32Bytes(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	assert.Equal(t, v, bytesToFloat32(float32ToBytes(v)))
	assert.Nil(t, bytesToFloat32([]byte{1, 2, 3}))
	assert.Nil(t, bytesToFloat32(nil))
}
