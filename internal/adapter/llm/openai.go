package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"agent-zero/internal/domain"
)

// openaiTransport speaks the OpenAI chat completions protocol. Every
// provider with an OpenAI-compatible endpoint goes through it.
type openaiTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func newOpenAITransport(baseURL, apiKey string, client *http.Client, logger *slog.Logger) *openaiTransport {
	return &openaiTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
	}
}

// buildBody merges kwargs into the request body. The fixed fields are set
// last so kwargs cannot override them.
func (t *openaiTransport) buildBody(req request, stream bool) ([]byte, error) {
	body := make(map[string]any, len(req.Kwargs)+4)
	for k, v := range req.Kwargs {
		if reservedKwargs[k] {
			continue
		}
		body[k] = v
	}
	body["model"] = req.Model
	body["messages"] = ToWireMessages(req.Messages)
	if stream {
		body["stream"] = true
	} else {
		delete(body, "stream")
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return b, nil
}

func (t *openaiTransport) complete(ctx context.Context, req request) (string, error) {
	body, err := t.buildBody(req, false)
	if err != nil {
		return "", err
	}

	respBody, err := doJSONRequest(ctx, t.client, t.baseURL+"/chat/completions", body, authHeaders(t.apiKey))
	if err != nil {
		return "", err
	}
	return ParseChunk(respBody).ResponseDelta, nil
}

func (t *openaiTransport) stream(ctx context.Context, req request) (<-chan domain.StreamChunk, error) {
	body, err := t.buildBody(req, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := doStreamRequest(ctx, t.client, t.baseURL+"/chat/completions", body, authHeaders(t.apiKey))
	if err != nil {
		return nil, err
	}
	return parseSSEStream(ctx, httpResp.Body), nil
}
