package domain

// StreamChunk is one normalized fragment of a streamed model response.
// Either delta may be empty; both may be set in the same chunk.
// Err is set only on the terminal chunk of a stream that failed mid-flight.
type StreamChunk struct {
	ResponseDelta  string `json:"response_delta,omitempty"`
	ReasoningDelta string `json:"reasoning_delta,omitempty"`
	Err            error  `json:"-"`
}

// Empty reports whether the chunk carries no text.
func (c StreamChunk) Empty() bool {
	return c.ResponseDelta == "" && c.ReasoningDelta == ""
}

// CallResult is the terminal accumulation of a streaming call.
type CallResult struct {
	Response  string `json:"response"`
	Reasoning string `json:"reasoning"`
}

// StreamDeltaPayload is the payload for EventStreamDelta events.
type StreamDeltaPayload struct {
	AgentNumber int    `json:"agent"`
	Response    string `json:"response,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// StreamCompletedPayload is the payload for EventStreamCompleted events.
type StreamCompletedPayload struct {
	AgentNumber int    `json:"agent"`
	Response    string `json:"response"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// StreamErrorPayload is the payload for EventStreamError events.
type StreamErrorPayload struct {
	Error string `json:"error"`
}
