package adapter

import (
	"context"
	"strings"
	"time"
)

// Strategy produces a completion for the given prompt. Strategies are pure
// functions of the prompt (plus internal call counters) so offline
// tournaments replay identically.
type Strategy func(prompt string) string

// Offline is the no-network backend used for deterministic tournaments and
// tests. It applies the same timeout and token-cap semantics as the
// networked adapters.
type Offline struct {
	modelID  string
	strategy Strategy
}

// NewOffline returns an offline adapter that answers with the given strategy.
func NewOffline(modelID string, strategy Strategy) *Offline {
	return &Offline{modelID: modelID, strategy: strategy}
}

// ModelID returns the configured model identifier.
func (a *Offline) ModelID() string { return a.modelID }

// Query runs the strategy against the last message in the request. The
// strategy runs in its own goroutine so a slow strategy trips the request
// timeout exactly like a slow provider would. Output is capped at four
// characters per allowed token.
func (a *Offline) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}

	done := make(chan string, 1)
	go func() { done <- a.strategy(prompt) }()

	var expired <-chan time.Time
	if req.Timeout > 0 {
		tm := time.NewTimer(req.Timeout)
		defer tm.Stop()
		expired = tm.C
	}

	select {
	case <-ctx.Done():
		return nil, NewError(KindTimeout, a.modelID, ctx.Err())
	case <-expired:
		return nil, NewError(KindTimeout, a.modelID, context.DeadlineExceeded)
	case text := <-done:
		if strings.TrimSpace(text) == "" {
			return nil, NewError(KindAPI, a.modelID, ErrEmptyCompletion)
		}
		if limit := 4 * req.MaxTokens; limit > 0 && len(text) > limit {
			text = text[:limit]
		}
		outTokens := len(text) / 4
		if outTokens < 1 {
			outTokens = 1
		}
		return &Response{
			RawText:      text,
			OutputTokens: outTokens,
			LatencyMS:    time.Since(start).Milliseconds(),
			ModelID:      a.modelID,
			ModelVersion: a.modelID,
		}, nil
	}
}
