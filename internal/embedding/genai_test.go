package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenAIEngine(t *testing.T) {
	t.Run("missing key rejected", func(t *testing.T) {
		_, err := NewGenAIEngine(context.Background(), "", "")
		assert.Error(t, err)
	})

	t.Run("model defaults", func(t *testing.T) {
		engine, err := NewGenAIEngine(context.Background(), "test-key", "")
		require.NoError(t, err)
		assert.Equal(t, "genai:gemini-embedding-001", engine.Name())
		assert.Equal(t, 768, engine.Dimensions())
	})
}
