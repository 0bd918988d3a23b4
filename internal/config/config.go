// Package config loads deskd configuration from YAML with environment
// overrides. The resulting Config is immutable by convention: it is built
// once at startup and handed to constructors, never mutated afterward.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all deskd configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Memory       MemoryConfig       `yaml:"memory"`
	Search       SearchConfig       `yaml:"search"`
	Router       RouterConfig       `yaml:"router"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Agents       AgentsConfig       `yaml:"agents"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// LLMConfig configures the inference service client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai, or any openai-compatible endpoint
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	// RoutingTimeout bounds classification/override calls; GenerateTimeout
	// bounds answer generation.
	RoutingTimeout  time.Duration `yaml:"routing_timeout"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

// EmbeddingConfig configures the embedding engine used for vector memory.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // genai or none
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	DatabasePath       string `yaml:"database_path"`
	ConversationWindow int    `yaml:"conversation_window"`
}

// SearchConfig configures staged semantic search. Stage timeouts are
// defaults, not calibrated constants.
type SearchConfig struct {
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	HistoryTimeout  time.Duration `yaml:"history_timeout"`
	MaxTokens       int           `yaml:"max_tokens"`
	SnippetLimit    int           `yaml:"snippet_limit"`
}

// RouterConfig configures intent routing. Confidence thresholds are opaque,
// uncalibrated floats; treat them as tunables.
type RouterConfig struct {
	StructuralThreshold float64       `yaml:"structural_threshold"`
	OverrideTimeout     time.Duration `yaml:"override_timeout"`
}

// OrchestratorConfig configures plan acquisition and execution.
type OrchestratorConfig struct {
	DirectPlanThreshold float64       `yaml:"direct_plan_threshold"`
	StepTimeout         time.Duration `yaml:"step_timeout"`
}

// AgentsConfig configures the dynamic agent loader and sandbox.
type AgentsConfig struct {
	DefinitionsDir      string        `yaml:"definitions_dir"`
	CacheSize           int           `yaml:"cache_size"`
	AllowedCapabilities []string      `yaml:"allowed_capabilities"`
	WatchDefinitions    bool          `yaml:"watch_definitions"`
	CompileTimeout      time.Duration `yaml:"compile_timeout"`
}

// LoggingConfig configures zap output.
type LoggingConfig struct {
	Level   string `yaml:"level"` // debug, info, warn, error
	File    string `yaml:"file"`  // optional log file; empty means console only
	Console bool   `yaml:"console"`
}

// Default returns the baseline configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".deskd")
	return &Config{
		Name:    "deskd",
		Version: "0.3.0",
		LLM: LLMConfig{
			Provider:        "anthropic",
			Model:           "claude-sonnet-4-5-20250929",
			RoutingTimeout:  8 * time.Second,
			GenerateTimeout: 60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: "genai",
			Model:    "gemini-embedding-001",
		},
		Memory: MemoryConfig{
			DatabasePath:       filepath.Join(base, "memory.db"),
			ConversationWindow: 8,
		},
		Search: SearchConfig{
			ExchangeTimeout: 10 * time.Second,
			SessionTimeout:  12 * time.Second,
			HistoryTimeout:  15 * time.Second,
			MaxTokens:       512,
			SnippetLimit:    6,
		},
		Router: RouterConfig{
			StructuralThreshold: 0.70,
			OverrideTimeout:     6 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			DirectPlanThreshold: 0.80,
			StepTimeout:         45 * time.Second,
		},
		Agents: AgentsConfig{
			DefinitionsDir:      filepath.Join(base, "agents"),
			CacheSize:           32,
			AllowedCapabilities: []string{"clock", "path", "fs_read", "store"},
			WatchDefinitions:    true,
			CompileTimeout:      10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads YAML config from path, layered over defaults, then applies
// environment overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers environment variables over the loaded config.
// ANTHROPIC_API_KEY fills the key and only implies the provider when none is
// configured; OPENAI_API_KEY switches to an OpenAI-compatible endpoint and
// wins when both keys are set.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.APIKey = v
		if c.LLM.Provider == "" {
			c.LLM.Provider = "anthropic"
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
		c.LLM.Provider = "openai"
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("DESKD_DB_PATH"); v != "" {
		c.Memory.DatabasePath = v
	}
	if v := os.Getenv("DESKD_AGENTS_DIR"); v != "" {
		c.Agents.DefinitionsDir = v
	}
	if v := os.Getenv("DESKD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DESKD_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
}

// validate rejects configurations the core cannot run with.
func (c *Config) validate() error {
	if c.Router.StructuralThreshold < 0 || c.Router.StructuralThreshold > 1 {
		return fmt.Errorf("router.structural_threshold must be in [0,1], got %v", c.Router.StructuralThreshold)
	}
	if c.Orchestrator.DirectPlanThreshold < 0 || c.Orchestrator.DirectPlanThreshold > 1 {
		return fmt.Errorf("orchestrator.direct_plan_threshold must be in [0,1], got %v", c.Orchestrator.DirectPlanThreshold)
	}
	if c.Memory.ConversationWindow <= 0 {
		return fmt.Errorf("memory.conversation_window must be positive")
	}
	if c.Agents.CacheSize <= 0 {
		return fmt.Errorf("agents.cache_size must be positive")
	}
	return nil
}
