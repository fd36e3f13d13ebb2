// Package embedding implements domain.EmbeddingModel for remote providers
// and for static word-vector models loaded from disk.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"agent-zero/internal/domain"
)

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 10 * 1024 * 1024

// OpenAIOption configures the OpenAI-compatible embedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithOpenAIModel sets the embedding model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIEmbedder) { p.model = model }
}

// WithOpenAIBaseURL sets a custom base URL.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(p *OpenAIEmbedder) { p.baseURL = url }
}

// WithOpenAIClient sets a custom HTTP client.
func WithOpenAIClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIEmbedder) { p.client = client }
}

// WithOpenAIName overrides the provider name reported by Name.
func WithOpenAIName(name string) OpenAIOption {
	return func(p *OpenAIEmbedder) { p.name = name }
}

// OpenAIEmbedder calls the /embeddings endpoint of any OpenAI-compatible API.
type OpenAIEmbedder struct {
	apiKey  string
	model   string
	name    string
	baseURL string
	client  *http.Client

	dims dimensions
}

// NewOpenAIEmbedder creates an OpenAI-compatible embedder. An empty apiKey
// sends no Authorization header.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) *OpenAIEmbedder {
	p := &OpenAIEmbedder{
		apiKey:  apiKey,
		model:   "text-embedding-3-small",
		name:    "openai",
		baseURL: "https://api.openai.com/v1",
		client:  defaultHTTPClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// --- OpenAI embeddings wire types ---

type openaiEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbedResponse struct {
	Data  []openaiEmbedData `json:"data"`
	Usage openaiEmbedUsage  `json:"usage"`
}

type openaiEmbedData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type openaiEmbedUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbedDocuments implements domain.EmbeddingModel.
func (p *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openaiEmbedRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	respBody, err := postJSON(ctx, p.client, p.baseURL+"/embeddings", body, headers)
	if err != nil {
		return nil, err
	}

	var oaiResp openaiEmbedResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(oaiResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrEmbeddingFailed, len(oaiResp.Data), len(texts))
	}

	// Sort by index to ensure correct ordering.
	sort.Slice(oaiResp.Data, func(i, j int) bool {
		return oaiResp.Data[i].Index < oaiResp.Data[j].Index
	})

	result := make([][]float32, len(oaiResp.Data))
	for i, d := range oaiResp.Data {
		result[i] = d.Embedding
	}
	p.dims.observe(result)
	return result, nil
}

// EmbedQuery implements domain.EmbeddingModel.
func (p *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return first(p.EmbedDocuments(ctx, []string{text}))
}

// Dimensions implements domain.EmbeddingModel.
func (p *OpenAIEmbedder) Dimensions() int { return p.dims.get() }

// Name implements domain.EmbeddingModel.
func (p *OpenAIEmbedder) Name() string { return p.name }

var _ domain.EmbeddingModel = (*OpenAIEmbedder)(nil)

// postJSON sends body and returns the response payload of a 200 reply.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrEmbeddingFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", domain.ErrEmbeddingFailed, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrEmbeddingFailed, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API error %d: %s", domain.ErrEmbeddingFailed, httpResp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func first(vecs [][]float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: empty result", domain.ErrEmbeddingFailed)
	}
	return vecs[0], nil
}

// dimensions remembers the vector width of the first successful response.
type dimensions struct {
	n atomic.Int64
}

func (d *dimensions) observe(vecs [][]float32) {
	if len(vecs) > 0 && len(vecs[0]) > 0 {
		d.n.CompareAndSwap(0, int64(len(vecs[0])))
	}
}

func (d *dimensions) get() int { return int(d.n.Load()) }
