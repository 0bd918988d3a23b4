package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 10*time.Second, cfg.Search.ExchangeTimeout)
	assert.Equal(t, 12*time.Second, cfg.Search.SessionTimeout)
	assert.Equal(t, 15*time.Second, cfg.Search.HistoryTimeout)
	assert.InDelta(t, 0.70, cfg.Router.StructuralThreshold, 1e-9)
	assert.InDelta(t, 0.80, cfg.Orchestrator.DirectPlanThreshold, 1e-9)
	assert.Contains(t, cfg.Agents.AllowedCapabilities, "store")
	require.NoError(t, cfg.validate())
}

func TestLoad(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "deskd", cfg.Name)
	})

	t.Run("yaml layers over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte("router:\n  structural_threshold: 0.9\nlogging:\n  level: debug\n")
		require.NoError(t, os.WriteFile(path, data, 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.InDelta(t, 0.9, cfg.Router.StructuralThreshold, 1e-9)
		assert.Equal(t, "debug", cfg.Logging.Level)
		// Unset keys keep defaults.
		assert.Equal(t, 12*time.Second, cfg.Search.SessionTimeout)
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("router: ["), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Run("ANTHROPIC_API_KEY fills provider only when empty", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")
		t.Setenv("OPENAI_API_KEY", "")

		cfg := &Config{LLM: LLMConfig{Provider: "custom"}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "ant-key", cfg.LLM.APIKey)
		assert.Equal(t, "custom", cfg.LLM.Provider)
	})

	t.Run("OPENAI_API_KEY overrides provider", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "oa-key")

		cfg := &Config{LLM: LLMConfig{Provider: "anthropic"}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("deskd paths and level", func(t *testing.T) {
		t.Setenv("DESKD_DB_PATH", "/tmp/mem.db")
		t.Setenv("DESKD_AGENTS_DIR", "/tmp/agents")
		t.Setenv("DESKD_LOG_LEVEL", "warn")

		cfg := Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/tmp/mem.db", cfg.Memory.DatabasePath)
		assert.Equal(t, "/tmp/agents", cfg.Agents.DefinitionsDir)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Router.StructuralThreshold = 1.5 }},
		{"negative plan threshold", func(c *Config) { c.Orchestrator.DirectPlanThreshold = -0.1 }},
		{"zero conversation window", func(c *Config) { c.Memory.ConversationWindow = 0 }},
		{"zero cache size", func(c *Config) { c.Agents.CacheSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}
