package embedding

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"agent-zero/internal/domain"
)

// GeminiEmbedder embeds text through the Gemini API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string

	dims dimensions
}

// NewGeminiEmbedder creates a Gemini embedder. baseURL overrides the API
// endpoint when non-empty.
func NewGeminiEmbedder(ctx context.Context, apiKey, model, baseURL string, httpClient *http.Client) (*GeminiEmbedder, error) {
	if model == "" {
		model = "text-embedding-004"
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini client: %v", domain.ErrEmbeddingFailed, err)
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

// EmbedDocuments implements domain.EmbeddingModel.
func (p *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrEmbeddingFailed, len(resp.Embeddings), len(texts))
	}

	result := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e != nil {
			result[i] = e.Values
		}
	}
	p.dims.observe(result)
	return result, nil
}

// EmbedQuery implements domain.EmbeddingModel.
func (p *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return first(p.EmbedDocuments(ctx, []string{text}))
}

// Dimensions implements domain.EmbeddingModel.
func (p *GeminiEmbedder) Dimensions() int { return p.dims.get() }

// Name implements domain.EmbeddingModel.
func (p *GeminiEmbedder) Name() string { return "gemini" }

var _ domain.EmbeddingModel = (*GeminiEmbedder)(nil)
