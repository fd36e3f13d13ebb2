package llm

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"agent-zero/internal/domain"
)

// ChunkFrame is the typed shape of one completion frame, as produced by the
// SSE decoder and the native SDK adapters.
type ChunkFrame struct {
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice is one entry of ChunkFrame.Choices.
type ChunkChoice struct {
	Delta        *ChunkDelta `json:"delta,omitempty"`
	Message      *ChunkDelta `json:"message,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChunkDelta carries the text of a delta or a full message.
type ChunkDelta struct {
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ParseChunk normalizes a provider frame into a StreamChunk.
//
// Accepted shapes are ChunkFrame values and pointers, decoded JSON maps, and
// raw JSON ([]byte, json.RawMessage, string). Response text comes from the
// first choice's delta content and falls back to its full message content.
// Reasoning comes only from the delta's reasoning_content. Anything missing
// or malformed yields empty fields; ParseChunk never fails.
func ParseChunk(raw any) domain.StreamChunk {
	switch v := raw.(type) {
	case *ChunkFrame:
		if v == nil {
			return domain.StreamChunk{}
		}
		return parseFrame(*v)
	case ChunkFrame:
		return parseFrame(v)
	case map[string]any:
		return parseMap(v)
	case json.RawMessage:
		return parseJSON([]byte(v))
	case []byte:
		return parseJSON(v)
	case string:
		return parseJSON([]byte(v))
	default:
		return domain.StreamChunk{}
	}
}

func parseFrame(f ChunkFrame) domain.StreamChunk {
	if len(f.Choices) == 0 {
		return domain.StreamChunk{}
	}
	c := f.Choices[0]
	var out domain.StreamChunk
	if c.Delta != nil {
		out.ResponseDelta = c.Delta.Content
		out.ReasoningDelta = c.Delta.ReasoningContent
	}
	if out.ResponseDelta == "" && c.Message != nil {
		out.ResponseDelta = c.Message.Content
	}
	return out
}

func parseJSON(b []byte) domain.StreamChunk {
	if !gjson.ValidBytes(b) {
		return domain.StreamChunk{}
	}
	choice := gjson.GetBytes(b, "choices.0")
	if !choice.IsObject() {
		return domain.StreamChunk{}
	}
	out := domain.StreamChunk{
		ResponseDelta:  stringAt(choice, "delta.content"),
		ReasoningDelta: stringAt(choice, "delta.reasoning_content"),
	}
	if out.ResponseDelta == "" {
		out.ResponseDelta = stringAt(choice, "message.content")
	}
	if out.ResponseDelta == "" {
		out.ResponseDelta = stringAt(choice, "model_extra.message.content")
	}
	return out
}

func stringAt(r gjson.Result, path string) string {
	v := r.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}

func parseMap(m map[string]any) domain.StreamChunk {
	choice := firstChoice(m["choices"])
	if choice == nil {
		return domain.StreamChunk{}
	}
	delta := asMap(choice["delta"])
	out := domain.StreamChunk{
		ResponseDelta:  stringField(delta, "content"),
		ReasoningDelta: stringField(delta, "reasoning_content"),
	}
	if out.ResponseDelta == "" {
		out.ResponseDelta = stringField(asMap(choice["message"]), "content")
	}
	if out.ResponseDelta == "" {
		extra := asMap(choice["model_extra"])
		out.ResponseDelta = stringField(asMap(extra["message"]), "content")
	}
	return out
}

func firstChoice(v any) map[string]any {
	switch choices := v.(type) {
	case []any:
		if len(choices) > 0 {
			return asMap(choices[0])
		}
	case []map[string]any:
		if len(choices) > 0 {
			return choices[0]
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case *ChunkDelta:
		if m == nil {
			return nil
		}
		return map[string]any{"content": m.Content, "reasoning_content": m.ReasoningContent}
	case ChunkDelta:
		return map[string]any{"content": m.Content, "reasoning_content": m.ReasoningContent}
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
