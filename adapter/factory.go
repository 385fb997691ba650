package adapter

import (
	"fmt"
	"os"
)

// Config describes one configured agent's backend. It mirrors the models
// section of the tournament YAML; the config package converts into it so
// this package stays free of YAML concerns.
type Config struct {
	Name      string // agent name, used in error messages
	Provider  string // "offline", "openai", "anthropic" or "openrouter"
	ModelID   string
	Strategy  string // offline only
	APIKeyEnv string // env var holding the credential; provider default when empty
	BaseURL   string
	SiteURL   string // OpenRouter attribution
	AppName   string // OpenRouter attribution

	// RequestsPerMinute, when positive, wraps the adapter with client-side
	// pacing.
	RequestsPerMinute int
}

var defaultKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// New builds the adapter for one agent. Credentials are resolved eagerly so
// a misconfigured tournament fails before any match starts, naming the
// missing environment variable.
func New(cfg Config) (Adapter, error) {
	var a Adapter
	switch cfg.Provider {
	case "offline", "mock":
		strat, err := StrategyFor(cfg.Strategy)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", cfg.Name, err)
		}
		modelID := cfg.ModelID
		if modelID == "" {
			modelID = "offline:" + cfg.Strategy
		}
		a = NewOffline(modelID, strat)
	case "openai":
		key, err := credential(cfg)
		if err != nil {
			return nil, err
		}
		a = NewOpenAIFromKey(key, cfg.ModelID, cfg.BaseURL)
	case "anthropic":
		key, err := credential(cfg)
		if err != nil {
			return nil, err
		}
		a = NewAnthropicFromKey(key, cfg.ModelID)
	case "openrouter":
		key, err := credential(cfg)
		if err != nil {
			return nil, err
		}
		a = NewOpenRouter(key, cfg.ModelID, cfg.BaseURL, cfg.SiteURL, cfg.AppName)
	default:
		return nil, fmt.Errorf("model %s: unknown provider %q", cfg.Name, cfg.Provider)
	}
	return WithRateLimit(a, cfg.RequestsPerMinute), nil
}

func credential(cfg Config) (string, error) {
	env := cfg.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv[cfg.Provider]
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("model %s: environment variable %s is not set", cfg.Name, env)
	}
	return key, nil
}
