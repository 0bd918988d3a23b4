package inference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskd/internal/config"
)

func TestNewClient(t *testing.T) {
	ctx := context.Background()

	t.Run("anthropic", func(t *testing.T) {
		client, err := NewClient(ctx, config.LLMConfig{Provider: "anthropic", APIKey: "k"})
		require.NoError(t, err)
		assert.IsType(t, &AnthropicClient{}, client)
	})

	t.Run("gemini", func(t *testing.T) {
		client, err := NewClient(ctx, config.LLMConfig{Provider: "gemini", APIKey: "k"})
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})

	t.Run("gemini requires a key", func(t *testing.T) {
		_, err := NewClient(ctx, config.LLMConfig{Provider: "gemini"})
		assert.Error(t, err)
	})

	t.Run("openai", func(t *testing.T) {
		client, err := NewClient(ctx, config.LLMConfig{Provider: "openai", APIKey: "k"})
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, client)
	})

	t.Run("unknown provider with base url is openai-compatible", func(t *testing.T) {
		client, err := NewClient(ctx, config.LLMConfig{Provider: "llamafile", BaseURL: "http://localhost:8080"})
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, client)
	})

	t.Run("unknown provider without base url is an error", func(t *testing.T) {
		_, err := NewClient(ctx, config.LLMConfig{Provider: "mystery"})
		assert.Error(t, err)
	})
}
