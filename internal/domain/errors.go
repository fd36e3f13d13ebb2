package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrUnknownProvider   = fmt.Errorf("unknown model provider")
	ErrProviderNotFound  = fmt.Errorf("llm provider not found")
	ErrProviderCall      = fmt.Errorf("model call failed")
	ErrNoAPIKey          = fmt.Errorf("no api key resolved")
	ErrToolNotFound      = fmt.Errorf("tool not found")
	ErrToolFailure       = fmt.Errorf("tool execution failed")
	ErrMemoryUnavailable = fmt.Errorf("memory provider unavailable")
	ErrMemoryStore       = fmt.Errorf("memory store failed")
	ErrMemoryDelete      = fmt.Errorf("memory delete failed")
	ErrInvalidFilter     = fmt.Errorf("invalid memory filter")
	ErrMaxIterations     = fmt.Errorf("agent reached max iterations")
	ErrSessionNotFound   = fmt.Errorf("session not found")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrDecryption        = fmt.Errorf("decryption failed")
	ErrPromptNotFound    = fmt.Errorf("prompt template not found")

	// Resilience errors.
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
	ErrRateLimitWait = fmt.Errorf("rate limit wait abandoned")
	ErrAuthInvalid   = fmt.Errorf("authentication failed")
	ErrCircuitOpen   = fmt.Errorf("circuit breaker open")

	// Agent loop errors.
	ErrHookFailed      = fmt.Errorf("extension hook failed")
	ErrDelegation      = fmt.Errorf("delegation failed")
	ErrAgentTerminated = fmt.Errorf("agent terminated")
	ErrAgentBusy       = fmt.Errorf("agent is already running")

	// Embedding / vector errors.
	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed")
	ErrVectorStore     = fmt.Errorf("vector store operation failed")
	ErrVectorSearch    = fmt.Errorf("vector search failed")
	ErrModelLoad       = fmt.Errorf("local model load failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Agent.Delegate")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that a caller may retry.
// Nothing inside the runtime retries on its own.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeProviderError     ErrorCode = "PROVIDER_ERROR"
	CodeUnknownProvider   ErrorCode = "UNKNOWN_PROVIDER"
	CodeProviderNotFound  ErrorCode = "PROVIDER_NOT_FOUND"
	CodeProviderCall      ErrorCode = "PROVIDER_CALL"
	CodeNoAPIKey          ErrorCode = "NO_API_KEY"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure       ErrorCode = "TOOL_FAILURE"
	CodeMemoryUnavailable ErrorCode = "MEMORY_UNAVAILABLE"
	CodeMemoryStore       ErrorCode = "MEMORY_STORE"
	CodeMemoryDelete      ErrorCode = "MEMORY_DELETE"
	CodeInvalidFilter     ErrorCode = "INVALID_FILTER"
	CodeMaxIterations     ErrorCode = "MAX_ITERATIONS"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodePromptNotFound    ErrorCode = "PROMPT_NOT_FOUND"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeRateLimitWait     ErrorCode = "RATE_LIMIT_WAIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeHookFailed        ErrorCode = "HOOK_FAILED"
	CodeDelegation        ErrorCode = "DELEGATION"
	CodeAgentTerminated   ErrorCode = "AGENT_TERMINATED"
	CodeAgentBusy         ErrorCode = "AGENT_BUSY"
	CodeEmbeddingFailed   ErrorCode = "EMBEDDING_FAILED"
	CodeVectorStore       ErrorCode = "VECTOR_STORE"
	CodeVectorSearch      ErrorCode = "VECTOR_SEARCH"
	CodeModelLoad         ErrorCode = "MODEL_LOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrTimeout:           CodeTimeout,
	ErrInvalidInput:      CodeInvalidInput,
	ErrProviderError:     CodeProviderError,
	ErrUnknownProvider:   CodeUnknownProvider,
	ErrProviderNotFound:  CodeProviderNotFound,
	ErrProviderCall:      CodeProviderCall,
	ErrNoAPIKey:          CodeNoAPIKey,
	ErrToolNotFound:      CodeToolNotFound,
	ErrToolFailure:       CodeToolFailure,
	ErrMemoryUnavailable: CodeMemoryUnavailable,
	ErrMemoryStore:       CodeMemoryStore,
	ErrMemoryDelete:      CodeMemoryDelete,
	ErrInvalidFilter:     CodeInvalidFilter,
	ErrMaxIterations:     CodeMaxIterations,
	ErrSessionNotFound:   CodeSessionNotFound,
	ErrConfigLoad:        CodeConfigLoad,
	ErrDecryption:        CodeDecryption,
	ErrPromptNotFound:    CodePromptNotFound,
	ErrRateLimit:         CodeRateLimit,
	ErrRateLimitWait:     CodeRateLimitWait,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrCircuitOpen:       CodeCircuitOpen,
	ErrHookFailed:        CodeHookFailed,
	ErrDelegation:        CodeDelegation,
	ErrAgentTerminated:   CodeAgentTerminated,
	ErrAgentBusy:         CodeAgentBusy,
	ErrEmbeddingFailed:   CodeEmbeddingFailed,
	ErrVectorStore:       CodeVectorStore,
	ErrVectorSearch:      CodeVectorSearch,
	ErrModelLoad:         CodeModelLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Specific sentinels wrap nothing, so the first match is unambiguous
	// unless an error chain joins several of them.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
