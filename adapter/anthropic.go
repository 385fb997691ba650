package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter. It is satisfied by *sdk.MessageService so tests can substitute a
// fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic implements Adapter on top of the Claude Messages API.
type Anthropic struct {
	msg     MessagesClient
	modelID string
	backoff time.Duration
}

// NewAnthropic builds an adapter from an existing Messages client.
func NewAnthropic(msg MessagesClient, modelID string) *Anthropic {
	return &Anthropic{msg: msg, modelID: modelID, backoff: DefaultRateLimitBackoff}
}

// NewAnthropicFromKey constructs an adapter with the default SDK HTTP client.
func NewAnthropicFromKey(apiKey, modelID string) *Anthropic {
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&ac.Messages, modelID)
}

// WithBackoff overrides the rate-limit retry backoff. Tests shrink it.
func (a *Anthropic) WithBackoff(d time.Duration) *Anthropic {
	a.backoff = d
	return a
}

// ModelID returns the configured model identifier.
func (a *Anthropic) ModelID() string { return a.modelID }

// Query issues one Messages request. A rate-limited request is retried once
// after the backoff; a second rate limit surfaces as KindRateLimit.
func (a *Anthropic) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := a.create(ctx, req)
	if err != nil && classifyAnthropic(err) == KindRateLimit {
		select {
		case <-time.After(a.backoff):
		case <-ctx.Done():
			return nil, NewError(KindTimeout, a.modelID, ctx.Err())
		}
		resp, err = a.create(ctx, req)
	}
	if err != nil {
		return nil, NewError(classifyAnthropic(err), a.modelID, err)
	}

	var text, reasoning strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			reasoning.WriteString(block.Thinking)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, NewError(KindAPI, a.modelID, ErrEmptyCompletion)
	}

	return &Response{
		RawText:       text.String(),
		ReasoningText: reasoning.String(),
		InputTokens:   int(resp.Usage.InputTokens),
		OutputTokens:  int(resp.Usage.OutputTokens),
		LatencyMS:     time.Since(start).Milliseconds(),
		ModelID:       a.modelID,
		ModelVersion:  string(resp.Model),
	}, nil
}

func (a *Anthropic) create(ctx context.Context, req Request) (*sdk.Message, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.modelID),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	var opts []option.RequestOption
	if req.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(req.Timeout))
	}
	return a.msg.New(ctx, params, opts...)
}

func classifyAnthropic(err error) ErrorKind {
	if isTimeout(err) {
		return KindTimeout
	}
	var apierr *sdk.Error
	if errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests {
		return KindRateLimit
	}
	return KindAPI
}
