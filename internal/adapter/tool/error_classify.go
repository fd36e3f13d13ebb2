package tool

import (
	"errors"
	"slices"
	"strings"

	"agent-zero/internal/domain"
)

// retryHint is appended to error results the model may simply retry.
const retryHint = " (transient error, may succeed on retry)"

// transientErrs are failures of a collaborator rather than of the call itself.
var transientErrs = []error{
	domain.ErrTimeout,
	domain.ErrProviderError,
	domain.ErrProviderCall,
	domain.ErrRateLimit,
	domain.ErrCircuitOpen,
	domain.ErrEmbeddingFailed,
}

// transientText matches errors that arrive unwrapped from the network or
// the sqlite driver. Compared lower-cased.
var transientText = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"database is locked",
}

// retryable reports whether the tool call that failed with err may succeed
// if the model repeats it unchanged.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if slices.ContainsFunc(transientErrs, func(target error) bool { return errors.Is(err, target) }) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return slices.ContainsFunc(transientText, func(s string) bool { return strings.Contains(msg, s) })
}
