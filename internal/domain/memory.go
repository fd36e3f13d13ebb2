package domain

import (
	"context"
	"time"
)

// Memory areas used to tag stored documents.
const (
	AreaMain        = "main"
	AreaFragments   = "fragments"
	AreaSolutions   = "solutions"
	AreaInstruments = "instruments"
)

// MetaArea is the metadata key holding a document's area tag.
const MetaArea = "area"

// Document is a stored memory returned by similarity searches.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"page_content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Score     float64           `json:"score,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitzero"`
}

// Area returns the document's area tag, or "" if none was stored.
func (d Document) Area() string {
	return d.Metadata[MetaArea]
}

// MemoryStore is the vector-search collaborator consumed by the agent runtime.
type MemoryStore interface {
	// Insert embeds and stores text, returning the new document id.
	Insert(ctx context.Context, text string, metadata map[string]string) (string, error)
	// SearchSimilarityThreshold returns at most limit documents whose
	// similarity to query is >= threshold, best first. filter is an
	// expression such as "area == 'solutions'"; empty matches everything.
	SearchSimilarityThreshold(ctx context.Context, query string, limit int, threshold float64, filter string) ([]Document, error)
	// DeleteDocumentsByIDs removes the given ids and returns those that existed.
	DeleteDocumentsByIDs(ctx context.Context, ids []string) ([]string, error)
	// Name returns the backend identifier.
	Name() string
}
