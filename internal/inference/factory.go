package inference

import (
	"context"
	"fmt"

	"deskd/internal/config"
)

// NewClient builds the provider selected by config. Unknown providers with a
// base URL are treated as OpenAI-compatible endpoints.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Model), nil
	case "gemini", "genai":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	case "openai", "openai-compatible", "ollama":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	default:
		if cfg.BaseURL != "" {
			return NewOpenAIClient(OpenAIConfig{
				APIKey:  cfg.APIKey,
				BaseURL: cfg.BaseURL,
				Model:   cfg.Model,
			}), nil
		}
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
