package adapter

import (
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenRouterBaseURL is used when the model config leaves base_url
// empty.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouter constructs an adapter for OpenRouter's OpenAI-compatible
// API. siteURL and appName populate the attribution headers OpenRouter uses
// for ranking; both are optional.
func NewOpenRouter(apiKey, modelID, baseURL, siteURL, appName string) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenRouterBaseURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}
	if siteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", siteURL))
	}
	if appName != "" {
		opts = append(opts, option.WithHeader("X-Title", appName))
	}
	c := openai.NewClient(opts...)
	return NewOpenAI(&c.Chat.Completions, modelID)
}
