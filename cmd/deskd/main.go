package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deskd/internal/agent"
	"deskd/internal/assistant"
	"deskd/internal/config"
	"deskd/internal/embedding"
	"deskd/internal/inference"
	"deskd/internal/logging"
	"deskd/internal/notify"
	"deskd/internal/orchestrator"
	"deskd/internal/router"
	"deskd/internal/search"
	"deskd/internal/store"
)

var (
	// Global flags
	configPath string
	logLevel   string
	sessionID  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "deskd",
	Short: "deskd - local assistant decision core",
	Long: `deskd routes utterances through staged memory search, intent
classification, and plan-driven agent orchestration, all backed by a local
SQLite memory store.

Run without arguments to start the interactive chat loop.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := logging.Setup(cfg.Logging); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		loadedConfig = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the deskd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deskd %s\n", loadedConfig.Version)
	},
}

// loadedConfig is populated by the persistent pre-run.
var loadedConfig *config.Config

// app is the wired object graph for one process.
type app struct {
	cfg       *config.Config
	store     *store.Store
	assistant *assistant.Assistant
	notifier  *notify.Notifier
	loader    *agent.Loader
	watcher   *agent.DefinitionWatcher
}

// buildApp wires the full pipeline from config.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.Named("boot")

	client, err := inference.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("inference client: %w", err)
	}

	var engine embedding.Engine
	if cfg.Embedding.Provider == "genai" && cfg.Embedding.APIKey != "" {
		engine, err = embedding.NewGenAIEngine(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model)
		if err != nil {
			log.Warn("embedding engine unavailable, falling back to text search", zap.Error(err))
			engine = nil
		}
	} else {
		log.Info("no embedding engine configured, memory search is text-only")
	}

	st, err := store.Open(cfg.Memory.DatabasePath, engine)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	registry := agent.NewRegistry()
	agent.RegisterBuiltins(registry, agent.BuiltinDeps{
		Store:           st,
		Client:          client,
		GenerateTimeout: cfg.LLM.GenerateTimeout,
	})

	sandbox := agent.NewSandbox(cfg.Agents.AllowedCapabilities, st)
	loader, err := agent.NewLoader(registry, sandbox, cfg.Agents.DefinitionsDir,
		cfg.Agents.CacheSize, cfg.Agents.CompileTimeout)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var watcher *agent.DefinitionWatcher
	if cfg.Agents.WatchDefinitions {
		watcher, err = agent.NewDefinitionWatcher(loader, cfg.Agents.DefinitionsDir)
		if err != nil {
			log.Warn("definitions watcher unavailable", zap.Error(err))
		} else if err := watcher.Start(); err != nil {
			log.Warn("definitions watcher failed to start", zap.Error(err))
			watcher = nil
		}
	}

	orch := orchestrator.New(loader, st, cfg.Orchestrator)
	rt := router.New(client, cfg.Router)
	sr := search.New(client, st, cfg.Search)
	notifier := notify.New(16)

	return &app{
		cfg:       cfg,
		store:     st,
		assistant: assistant.New(st, sr, rt, orch, notifier, cfg),
		notifier:  notifier,
		loader:    loader,
		watcher:   watcher,
	}, nil
}

// close shuts the app down, draining background orchestrations first.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.assistant.Close(ctx); err != nil {
		logging.Named("boot").Warn("shutdown incomplete", zap.Error(err))
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if err := a.store.Close(); err != nil {
		logging.Named("boot").Warn("store close failed", zap.Error(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "session id to continue")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
