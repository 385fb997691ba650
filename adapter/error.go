package adapter

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures into the three categories the match
// loop acts on.
type ErrorKind string

const (
	// KindTimeout indicates the request exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindRateLimit indicates the provider throttled the request and the
	// single backoff retry was also throttled.
	KindRateLimit ErrorKind = "rate_limit"

	// KindAPI indicates any other provider failure, including empty
	// completions.
	KindAPI ErrorKind = "api_error"
)

// ErrEmptyCompletion reports a completion with no usable text. Adapters wrap
// it in a KindAPI Error; the match loop unwraps it to record an
// empty-response violation instead of a generic API failure.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Error describes an adapter failure. It crosses package boundaries so the
// match loop can make ruling decisions on the kind alone.
type Error struct {
	kind    ErrorKind
	modelID string
	cause   error
}

// NewError constructs an Error. kind is required; cause may be nil but is
// recommended to preserve the original error chain.
func NewError(kind ErrorKind, modelID string, cause error) *Error {
	if kind == "" {
		panic("adapter: error kind is required")
	}
	return &Error{kind: kind, modelID: modelID, cause: cause}
}

// Kind returns the coarse failure classification.
func (e *Error) Kind() ErrorKind { return e.kind }

// ModelID returns the model the failing request was addressed to.
func (e *Error) ModelID() string { return e.modelID }

func (e *Error) Error() string {
	msg := "adapter error"
	if e.cause != nil {
		msg = e.cause.Error()
	}
	return fmt.Sprintf("%s %s: %s", e.modelID, e.kind, msg)
}

// Unwrap returns the underlying failure to preserve the error chain.
func (e *Error) Unwrap() error { return e.cause }

// AsError returns the first Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
