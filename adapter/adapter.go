// Package adapter normalizes model backends behind a single Query surface.
//
// Four backends are supported: offline (deterministic strategies, no
// network), OpenAI, Anthropic, and OpenRouter. Every backend honors the
// request timeout, retries exactly once after a provider rate limit, and
// reports failures as a typed *Error so the match loop can map them onto
// fidelity violations without inspecting SDK error types.
package adapter

import (
	"context"
	"time"
)

// DefaultRateLimitBackoff is how long a networked adapter waits before its
// single retry after a provider rate limit.
const DefaultRateLimitBackoff = 5 * time.Second

// Message is one entry of the conversation sent to a backend.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// Request carries one completion request. Timeout bounds the whole call
// including the rate-limit retry; the caller derives it from the turn's
// shot clock.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Response is a successful completion, normalized across backends.
type Response struct {
	RawText       string
	ReasoningText string
	InputTokens   int
	OutputTokens  int
	LatencyMS     int64
	ModelID       string
	ModelVersion  string
}

// Adapter is the backend contract. Query returns either a non-nil Response
// or a *Error; it never returns both nil.
type Adapter interface {
	// ModelID returns the configured model identifier.
	ModelID() string

	// Query issues one completion request.
	Query(ctx context.Context, req Request) (*Response, error)
}
