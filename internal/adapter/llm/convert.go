package llm

import (
	"encoding/json"
	"fmt"

	"agent-zero/internal/domain"
)

// --- OpenAI chat wire types ---

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// roleMapping maps conversation roles, including the aliases some callers
// use, to the fixed wire roles. Unknown roles pass through unchanged.
var roleMapping = map[string]string{
	domain.RoleSystem:    "system",
	domain.RoleUser:      "user",
	domain.RoleAssistant: "assistant",
	domain.RoleTool:      "tool",
	"human":              "user",
	"ai":                 "assistant",
}

func wireRole(role string) string {
	if r, ok := roleMapping[role]; ok {
		return r
	}
	return role
}

// ToWireMessages converts a conversation into OpenAI chat wire messages.
// Tool call arguments are serialized to a JSON string when they are not one
// already, an empty tool call list is omitted, and tool_call_id is carried
// only on tool messages.
func ToWireMessages(messages []domain.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{
			Role:    wireRole(m.Role),
			Content: m.Content,
		}
		if len(m.ToolCalls) > 0 {
			wm.ToolCalls = make([]wireToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				wm.ToolCalls[i] = wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: wireFunctionCall{
						Name:      tc.Name,
						Arguments: argumentsString(tc.Arguments),
					},
				}
			}
		}
		if wm.Role == "tool" && m.ToolCallID != "" {
			wm.ToolCallID = m.ToolCallID
		}
		out = append(out, wm)
	}
	return out
}

func argumentsString(args any) string {
	switch v := args.(type) {
	case nil:
		return "{}"
	case string:
		return v
	case json.RawMessage:
		return string(v)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(b)
}
