package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"agent-zero/internal/domain"
)

// defaultAnthropicMaxTokens is required by the Messages API.
const defaultAnthropicMaxTokens = 4096

// anthropicTransport uses the native Messages API so thinking deltas can be
// surfaced as reasoning.
type anthropicTransport struct {
	client anthropic.Client
}

func newAnthropicTransport(apiKey, baseURL string, httpClient *http.Client) *anthropicTransport {
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &anthropicTransport{client: anthropic.NewClient(opts...)}
}

func (t *anthropicTransport) complete(ctx context.Context, req request) (string, error) {
	msg, err := t.client.Messages.New(ctx, anthropicParams(req))
	if err != nil {
		return "", fmt.Errorf("%w: anthropic: %w", domain.ErrProviderCall, err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (t *anthropicTransport) stream(ctx context.Context, req request) (<-chan domain.StreamChunk, error) {
	stream := t.client.Messages.NewStreaming(ctx, anthropicParams(req))

	ch := make(chan domain.StreamChunk, 16)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta().Delta
			d := &ChunkDelta{}
			switch delta.Type {
			case "text_delta":
				d.Content = delta.Text
			case "thinking_delta":
				d.ReasoningContent = delta.Thinking
			default:
				continue
			}
			chunk := ParseChunk(&ChunkFrame{Choices: []ChunkChoice{{Delta: d}}})
			if chunk.Empty() {
				continue
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case ch <- domain.StreamChunk{Err: fmt.Errorf("%w: anthropic: %w", domain.ErrProviderCall, err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func anthropicParams(req request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: defaultAnthropicMaxTokens,
	}

	for _, m := range req.Messages {
		switch wireRole(m.Role) {
		case "system":
			params.System = append(params.System, anthropic.TextBlockParam{
				Text: m.Content,
				Type: constant.ValueOf[constant.Text]().Default(),
			})
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	if v, ok := toFloat(req.Kwargs["max_tokens"]); ok && v > 0 {
		params.MaxTokens = int64(v)
	}
	if v, ok := toFloat(req.Kwargs["temperature"]); ok {
		params.Temperature = anthropic.Float(v)
	}
	if v, ok := toFloat(req.Kwargs["top_p"]); ok {
		params.TopP = anthropic.Float(v)
	}
	if v, ok := toFloat(req.Kwargs["top_k"]); ok {
		params.TopK = anthropic.Int(int64(v))
	}
	return params
}

// toolInput decodes tool call arguments into the structured input the
// Messages API expects.
func toolInput(args any) any {
	raw := argumentsString(args)
	var v map[string]any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]any{}
	}
	return v
}
