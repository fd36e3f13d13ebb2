package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Tool.Execute", ErrToolNotFound, "tool 'foo'")
	want := "Tool.Execute: tool 'foo': tool not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Agent.Monologue", ErrMaxIterations, "")
	want := "Agent.Monologue: agent reached max iterations"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Agent.Delegate", ErrDelegation, "agent 1")
	if !errors.Is(err, ErrDelegation) {
		t.Error("errors.Is should match ErrDelegation")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := NewDomainError("LLM.Resolve", ErrUnknownProvider, "groqq")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "LLM.Resolve" {
		t.Errorf("Op = %q, want %q", de.Op, "LLM.Resolve")
	}
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeToolNotFound, ErrorCodeOf(ErrToolNotFound))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(ErrSessionNotFound))
	assert.Equal(t, CodeRateLimitWait, ErrorCodeOf(ErrRateLimitWait))
	assert.Equal(t, CodeHookFailed, ErrorCodeOf(ErrHookFailed))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Tool.Execute", ErrToolNotFound, "tool 'foo'")
	assert.Equal(t, CodeToolNotFound, ErrorCodeOf(err))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrProviderCall)
	assert.Equal(t, CodeProviderCall, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_Code(t *testing.T) {
	err := NewDomainError("Store.Delete", ErrMemoryDelete, "doc-1")
	assert.Equal(t, CodeMemoryDelete, err.Code())
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Op", fmt.Errorf("custom"), "detail")
	assert.Equal(t, CodeUnknown, err.Code())
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

// --- WrapOp tests ---

func TestWrapOp_Nil(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))
}

func TestWrapOp_Format(t *testing.T) {
	err := WrapOp("Session.Load", ErrSessionNotFound)
	assert.Equal(t, "Session.Load: session not found", err.Error())
}

func TestWrapOp_PreservesErrorCode(t *testing.T) {
	err := WrapOp("Session.Load", ErrSessionNotFound)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(err))
}

func TestWrapOp_Chain(t *testing.T) {
	inner := WrapOp("inner", ErrToolFailure)
	outer := WrapOp("outer", inner)
	assert.Equal(t, "outer: inner: tool execution failed", outer.Error())
	assert.True(t, errors.Is(outer, ErrToolFailure))
}

// --- IsRetryableError tests ---

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrRateLimit))
	assert.True(t, IsRetryableError(WrapOp("call", ErrCircuitOpen)))
	assert.False(t, IsRetryableError(ErrDelegation))
	assert.False(t, IsRetryableError(nil))
}

func TestModelHandleKey(t *testing.T) {
	h := ModelHandle{Provider: "openai", Name: "gpt-4o"}
	assert.Equal(t, `openai\gpt-4o`, h.Key())
}

func TestDocumentArea(t *testing.T) {
	d := Document{Metadata: map[string]string{MetaArea: AreaSolutions}}
	assert.Equal(t, AreaSolutions, d.Area())
	assert.Equal(t, "", Document{}.Area())
}
