package classify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/inbox-triage/internal/model"
)

// Providers lists the supported backends. The first three need an API key.
var Providers = []string{"gemini", "openai", "anthropic", "keyword"}

// NeedsAPIKey reports whether provider calls a remote API.
func NeedsAPIKey(provider string) bool {
	switch provider {
	case "anthropic", "gemini", "openai":
		return true
	}
	return false
}

// DefaultModel returns the model used when the configuration names none.
func DefaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return defaultAnthropicModel
	case "gemini":
		return defaultGeminiModel
	case "openai":
		return defaultOpenAIModel
	}
	return ""
}

// New builds the configured backend wrapped in a Limited classifier.
// apiKey is ignored by the keyword backend.
func New(ctx context.Context, cfg model.ClassifierConfig, apiKey string, logger *zap.Logger) (*Limited, error) {
	var backend Classifier

	switch cfg.Provider {
	case "anthropic":
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic classifier needs an API key")
		}
		backend = NewAnthropic(apiKey, cfg.Model, cfg.MaxTokens)
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai classifier needs an API key")
		}
		backend = NewOpenAI(apiKey, cfg.Model, cfg.MaxTokens)
	case "gemini":
		g, err := NewGemini(ctx, GeminiConfig{APIKey: apiKey, Model: cfg.Model, MaxTokens: cfg.MaxTokens})
		if err != nil {
			return nil, err
		}
		backend = g
	case "keyword", "":
		backend = NewKeyword()
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}

	return NewLimited(backend, LimitOptions{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxConcurrent:     cfg.MaxConcurrent,
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		Logger:            logger,
	}), nil
}
