package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agent-zero/internal/domain"
)

// OllamaOption configures the Ollama embedder.
type OllamaOption func(*OllamaEmbedder)

// WithOllamaModel sets the embedding model.
func WithOllamaModel(model string) OllamaOption {
	return func(p *OllamaEmbedder) { p.model = model }
}

// WithOllamaBaseURL sets a custom base URL.
func WithOllamaBaseURL(url string) OllamaOption {
	return func(p *OllamaEmbedder) { p.baseURL = url }
}

// WithOllamaClient sets a custom HTTP client.
func WithOllamaClient(client *http.Client) OllamaOption {
	return func(p *OllamaEmbedder) { p.client = client }
}

// OllamaEmbedder uses Ollama's native /api/embed endpoint.
type OllamaEmbedder struct {
	model   string
	baseURL string
	client  *http.Client

	dims dimensions
}

// NewOllamaEmbedder creates an Ollama embedder.
// The baseURL defaults to http://localhost:11434.
func NewOllamaEmbedder(opts ...OllamaOption) *OllamaEmbedder {
	p := &OllamaEmbedder{
		model:   "nomic-embed-text",
		baseURL: "http://localhost:11434",
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedDocuments implements domain.EmbeddingModel.
func (p *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
	}

	respBody, err := postJSON(ctx, p.client, p.baseURL+"/api/embed", body, nil)
	if err != nil {
		return nil, err
	}

	var ollamaResp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(ollamaResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrEmbeddingFailed, len(ollamaResp.Embeddings), len(texts))
	}
	p.dims.observe(ollamaResp.Embeddings)
	return ollamaResp.Embeddings, nil
}

// EmbedQuery implements domain.EmbeddingModel.
func (p *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return first(p.EmbedDocuments(ctx, []string{text}))
}

// Dimensions implements domain.EmbeddingModel.
func (p *OllamaEmbedder) Dimensions() int { return p.dims.get() }

// Name implements domain.EmbeddingModel.
func (p *OllamaEmbedder) Name() string { return "ollama" }

// Compile-time interface check.
var _ domain.EmbeddingModel = (*OllamaEmbedder)(nil)
