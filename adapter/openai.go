package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter. It
// is satisfied by the SDK's chat completion service so tests can substitute
// a fake.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI implements Adapter on top of the Chat Completions API. OpenRouter
// reuses it with a different base URL.
type OpenAI struct {
	chat    ChatClient
	modelID string
	backoff time.Duration
}

// NewOpenAI builds an adapter from an existing chat client.
func NewOpenAI(chat ChatClient, modelID string) *OpenAI {
	return &OpenAI{chat: chat, modelID: modelID, backoff: DefaultRateLimitBackoff}
}

// NewOpenAIFromKey constructs an adapter with the default SDK HTTP client.
func NewOpenAIFromKey(apiKey, modelID, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)
	return NewOpenAI(&c.Chat.Completions, modelID)
}

// WithBackoff overrides the rate-limit retry backoff. Tests shrink it.
func (a *OpenAI) WithBackoff(d time.Duration) *OpenAI {
	a.backoff = d
	return a
}

// ModelID returns the configured model identifier.
func (a *OpenAI) ModelID() string { return a.modelID }

// Query issues one chat completion. A rate-limited request is retried once
// after the backoff; a second rate limit surfaces as KindRateLimit.
func (a *OpenAI) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := a.create(ctx, req)
	if err != nil && classifyOpenAI(err) == KindRateLimit {
		select {
		case <-time.After(a.backoff):
		case <-ctx.Done():
			return nil, NewError(KindTimeout, a.modelID, ctx.Err())
		}
		resp, err = a.create(ctx, req)
	}
	if err != nil {
		return nil, NewError(classifyOpenAI(err), a.modelID, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, NewError(KindAPI, a.modelID, ErrEmptyCompletion)
	}
	msg := resp.Choices[0].Message

	// DeepSeek-style backends return chain-of-thought in a nonstandard
	// reasoning_content field the SDK does not model.
	reasoning := ""
	if f, ok := msg.JSON.ExtraFields["reasoning_content"]; ok && f.Valid() {
		var s string
		if json.Unmarshal([]byte(f.Raw()), &s) == nil {
			reasoning = s
		}
	}

	return &Response{
		RawText:       msg.Content,
		ReasoningText: reasoning,
		InputTokens:   int(resp.Usage.PromptTokens),
		OutputTokens:  int(resp.Usage.CompletionTokens),
		LatencyMS:     time.Since(start).Milliseconds(),
		ModelID:       a.modelID,
		ModelVersion:  resp.Model,
	}, nil
}

func (a *OpenAI) create(ctx context.Context, req Request) (*openai.ChatCompletion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(a.modelID),
		Messages:    encodeOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	var opts []option.RequestOption
	if req.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(req.Timeout))
	}
	return a.chat.New(ctx, params, opts...)
}

func encodeOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func classifyOpenAI(err error) ErrorKind {
	if isTimeout(err) {
		return KindTimeout
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests {
		return KindRateLimit
	}
	return KindAPI
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
