package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"agent-zero/internal/domain"
)

// geminiTransport uses the native genai client so thought parts can be
// surfaced as reasoning.
type geminiTransport struct {
	client *genai.Client
}

func newGeminiTransport(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*geminiTransport, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiTransport{client: client}, nil
}

func (t *geminiTransport) complete(ctx context.Context, req request) (string, error) {
	contents, cfg := geminiRequest(req)
	resp, err := t.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %w", domain.ErrProviderCall, err)
	}
	return ParseChunk(geminiFrame(resp)).ResponseDelta, nil
}

func (t *geminiTransport) stream(ctx context.Context, req request) (<-chan domain.StreamChunk, error) {
	contents, cfg := geminiRequest(req)

	ch := make(chan domain.StreamChunk, 16)
	go func() {
		defer close(ch)
		for resp, err := range t.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			var chunk domain.StreamChunk
			if err != nil {
				chunk.Err = fmt.Errorf("%w: gemini: %w", domain.ErrProviderCall, err)
			} else {
				chunk = ParseChunk(geminiFrame(resp))
				if chunk.Empty() {
					continue
				}
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// geminiFrame folds a response's parts into one frame: thought parts become
// reasoning, the rest response text.
func geminiFrame(resp *genai.GenerateContentResponse) *ChunkFrame {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return nil
	}
	var text, thought strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			thought.WriteString(part.Text)
		} else {
			text.WriteString(part.Text)
		}
	}
	return &ChunkFrame{Choices: []ChunkChoice{{
		Delta:        &ChunkDelta{Content: text.String(), ReasoningContent: thought.String()},
		FinishReason: string(cand.FinishReason),
	}}}
}

func geminiRequest(req request) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	var system []*genai.Part
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch wireRole(m.Role) {
		case "system":
			system = append(system, &genai.Part{Text: m.Content})
		case "assistant":
			parts := make([]*genai.Part, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args, _ := toolInput(tc.Arguments).(map[string]any)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}
	if v, ok := toFloat(req.Kwargs["temperature"]); ok {
		cfg.Temperature = genai.Ptr(float32(v))
	}
	if v, ok := toFloat(req.Kwargs["top_p"]); ok {
		cfg.TopP = genai.Ptr(float32(v))
	}
	if v, ok := toFloat(req.Kwargs["max_tokens"]); ok && v > 0 {
		cfg.MaxOutputTokens = int32(v)
	}
	if b, _ := req.Kwargs["include_thoughts"].(bool); b {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return contents, cfg
}
