package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"agent-zero/internal/domain"
)

func TestCharCounter(t *testing.T) {
	c := CharCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
}

func TestApproximateWith(t *testing.T) {
	c := CharCounter{}
	assert.Equal(t, 0, ApproximateWith(c, ""))
	// 40 chars -> 10 tokens -> 11 buffered
	assert.Equal(t, 11, ApproximateWith(c, "0123456789012345678901234567890123456789"))
}

func TestApproximateMessages(t *testing.T) {
	msgs := []domain.ChatMessage{
		domain.SystemMessage("abcdefgh"),
		domain.UserMessage("abcdefgh"),
		domain.AssistantMessage(""),
	}
	assert.Equal(t, 4, ApproximateMessages(CharCounter{}, msgs))
}
