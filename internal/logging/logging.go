// Package logging builds the per-subsystem zap loggers used across deskd.
// Every subsystem gets a named child of one shared core so level and sinks
// are configured in a single place. The zero value (no Setup call) is a nop
// logger, so library use never writes anywhere.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deskd/internal/config"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Setup builds the root logger from config and installs it. Safe to call
// more than once; the most recent call wins.
func Setup(cfg config.LoggingConfig) error {
	level := zapcore.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	var cores []zapcore.Core
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Console {
		consoleEnc := zapcore.NewConsoleEncoder(encCfg)
		cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level))
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		jsonEnc := zapcore.NewJSONEncoder(encCfg)
		cores = append(cores, zapcore.NewCore(jsonEnc, zapcore.Lock(f), level))
	}
	if len(cores) == 0 {
		mu.Lock()
		root = zap.NewNop()
		mu.Unlock()
		return nil
	}

	mu.Lock()
	root = zap.New(zapcore.NewTee(cores...))
	mu.Unlock()
	return nil
}

// Named returns a subsystem logger. Subsystem names in use: boot, router,
// search, orchestrator, agents, store, notify, assistant.
func Named(subsystem string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(subsystem)
}

// Sync flushes buffered entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
