// Package tokens estimates token counts for accounting and telemetry.
// The numbers are approximations and never gate correctness.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"agent-zero/internal/domain"
)

// DefaultEncoding is the BPE used when no model-specific encoding applies.
const DefaultEncoding = "cl100k_base"

// approxBuffer inflates exact counts to cover tokenizer differences
// between providers.
const approxBuffer = 1.1

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// CharCounter estimates four characters per token.
type CharCounter struct{}

// Count implements Counter.
func (CharCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter returns a tiktoken-backed counter for encoding, or CharCounter
// when the encoding cannot be loaded.
func NewCounter(encoding string) Counter {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return CharCounter{}
	}
	return tiktokenCounter{enc: enc}
}

var defaultCounter = sync.OnceValue(func() Counter {
	return NewCounter(DefaultEncoding)
})

// Default returns the process-wide counter, loading it on first use.
func Default() Counter { return defaultCounter() }

// Approximate returns a buffered token estimate for text using the default
// counter.
func Approximate(text string) int {
	return ApproximateWith(Default(), text)
}

// ApproximateWith is Approximate with an explicit counter.
func ApproximateWith(c Counter, text string) int {
	if text == "" {
		return 0
	}
	return int(float64(c.Count(text)) * approxBuffer)
}

// ApproximateMessages estimates the input size of a conversation.
func ApproximateMessages(c Counter, messages []domain.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += ApproximateWith(c, m.Content)
	}
	return total
}
