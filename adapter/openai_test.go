package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	responses []*openai.ChatCompletion
	errs      []error
	calls     int
	lastBody  openai.ChatCompletionNewParams
}

func (f *fakeChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	i := f.calls
	f.calls++
	f.lastBody = body
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return nil, errors.New("unexpected call")
}

func completion(text string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Model: "gpt-test-2026-01-01",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: text}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 120, CompletionTokens: 18},
	}
}

func TestOpenAIQuery(t *testing.T) {
	chat := &fakeChat{responses: []*openai.ChatCompletion{completion(`{"action": "call"}`)}}
	a := NewOpenAI(chat, "gpt-test")

	resp, err := a.Query(context.Background(), Request{
		Messages:    []Message{{Role: "user", Content: "your move"}},
		MaxTokens:   256,
		Temperature: 0.7,
		Timeout:     time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"action": "call"}`, resp.RawText)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 18, resp.OutputTokens)
	assert.Equal(t, "gpt-test", resp.ModelID)
	assert.Equal(t, "gpt-test-2026-01-01", resp.ModelVersion)

	assert.Equal(t, openai.ChatModel("gpt-test"), chat.lastBody.Model)
	require.Len(t, chat.lastBody.Messages, 1)
}

func TestOpenAIReasoningContent(t *testing.T) {
	// The reasoning_content field is nonstandard, so it only exists in the
	// SDK's extra-field map. Unmarshal a raw payload to populate it the way
	// a live response would.
	raw := `{
		"model": "deepseek-r1",
		"choices": [{"message": {"role": "assistant", "content": "{\"action\": \"fold\"}", "reasoning_content": "the board is scary"}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5}
	}`
	var cc openai.ChatCompletion
	require.NoError(t, json.Unmarshal([]byte(raw), &cc))

	chat := &fakeChat{responses: []*openai.ChatCompletion{&cc}}
	a := NewOpenAI(chat, "deepseek-r1")

	resp, err := a.Query(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, `{"action": "fold"}`, resp.RawText)
	assert.Equal(t, "the board is scary", resp.ReasoningText)
}

func TestOpenAIRateLimitRetriesOnce(t *testing.T) {
	chat := &fakeChat{
		errs:      []error{&openai.Error{StatusCode: http.StatusTooManyRequests}},
		responses: []*openai.ChatCompletion{nil, completion("ok")},
	}
	a := NewOpenAI(chat, "gpt-test").WithBackoff(time.Millisecond)

	resp, err := a.Query(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.RawText)
	assert.Equal(t, 2, chat.calls)
}

func TestOpenAIRateLimitTwiceFails(t *testing.T) {
	chat := &fakeChat{errs: []error{
		&openai.Error{StatusCode: http.StatusTooManyRequests},
		&openai.Error{StatusCode: http.StatusTooManyRequests},
	}}
	a := NewOpenAI(chat, "gpt-test").WithBackoff(time.Millisecond)

	_, err := a.Query(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	ae, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimit, ae.Kind())
	assert.Equal(t, 2, chat.calls)
}

func TestOpenAITimeout(t *testing.T) {
	chat := &fakeChat{errs: []error{context.DeadlineExceeded}}
	a := NewOpenAI(chat, "gpt-test")

	_, err := a.Query(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	ae, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, ae.Kind())
	assert.Equal(t, 1, chat.calls, "timeouts are not retried")
}

func TestOpenAIAPIError(t *testing.T) {
	chat := &fakeChat{errs: []error{&openai.Error{StatusCode: http.StatusInternalServerError}}}
	a := NewOpenAI(chat, "gpt-test")

	_, err := a.Query(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	ae, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindAPI, ae.Kind())
}

func TestOpenAIEmptyCompletion(t *testing.T) {
	chat := &fakeChat{responses: []*openai.ChatCompletion{completion("  ")}}
	a := NewOpenAI(chat, "gpt-test")

	_, err := a.Query(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyCompletion))
}

func TestFactoryCredentialCheck(t *testing.T) {
	t.Setenv("TOURNEY_TEST_KEY", "")
	os.Unsetenv("TOURNEY_TEST_KEY")

	_, err := New(Config{Name: "gpt", Provider: "openai", ModelID: "gpt-test", APIKeyEnv: "TOURNEY_TEST_KEY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOURNEY_TEST_KEY")

	t.Setenv("TOURNEY_TEST_KEY", "sk-test")
	a, err := New(Config{Name: "gpt", Provider: "openai", ModelID: "gpt-test", APIKeyEnv: "TOURNEY_TEST_KEY"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", a.ModelID())
}

func TestFactoryUnknownProvider(t *testing.T) {
	_, err := New(Config{Name: "m", Provider: "quantum", ModelID: "q1"})
	assert.ErrorContains(t, err, "quantum")
}

func TestFactoryOffline(t *testing.T) {
	a, err := New(Config{Name: "caller", Provider: "offline", ModelID: "mock-caller", Strategy: "always_call"})
	require.NoError(t, err)
	assert.Equal(t, "mock-caller", a.ModelID())

	_, err = New(Config{Name: "bad", Provider: "offline", ModelID: "m", Strategy: "nope"})
	assert.Error(t, err)
}
