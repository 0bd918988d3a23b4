// Package store implements the memory store: conversation records and
// long-term memory over embedded SQLite, with vector similarity search when
// an embedding engine is configured.
//
// Vector search uses the sqlite-vec vec0 virtual table when the extension is
// available (see driver_vec.go) and falls back to JSON-serialized embeddings
// ranked with in-process cosine similarity otherwise.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"deskd/internal/embedding"
	"deskd/internal/logging"
)

// Sentinel errors for the store boundary.
var (
	// ErrNotFound reports a missing record id. Deletes of missing ids
	// return it too; they never fault.
	ErrNotFound = errors.New("store: record not found")

	// ErrMalformedContent reports source text that is itself serialized
	// structure rather than natural language. Such writes are rejected,
	// not silently stored.
	ErrMalformedContent = errors.New("store: source text is serialized structure, not natural language")
)

// Store is the memory store. Safe for concurrent use; SQLite access is
// serialized through one connection.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	engine embedding.Engine
	vecExt bool
	log    *zap.Logger
}

// Open initializes the SQLite database at path. A nil engine disables
// vector writes; text search still works.
func Open(path string, engine embedding.Engine) (*Store, error) {
	log := logging.Named("store")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		// synchronous=NORMAL is safe under WAL and much faster than FULL.
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, path: path, engine: engine, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s.detectVecExtension()
	if s.vecExt {
		log.Info("sqlite-vec extension enabled")
	} else if engine != nil {
		log.Info("sqlite-vec unavailable; using cosine fallback for similarity search")
	}

	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the tables.
func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			source_text TEXT NOT NULL,
			suggested_response TEXT NOT NULL DEFAULT '',
			primary_intent TEXT NOT NULL DEFAULT '',
			entities TEXT NOT NULL DEFAULT '[]',
			screenshot_path TEXT NOT NULL DEFAULT '',
			extracted_text TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_intent ON memories(primary_intent)`,
		`CREATE TABLE IF NOT EXISTS memory_vectors (
			seq INTEGER PRIMARY KEY,
			embedding TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS classifications (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			source_text TEXT NOT NULL,
			primary_intent TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_classifications_session ON classifications(session_id)`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			utterance TEXT NOT NULL,
			intent TEXT NOT NULL,
			plan TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// detectVecExtension probes for the vec0 virtual table module.
func (s *Store) detectVecExtension() {
	dims := 768
	if s.engine != nil {
		dims = s.engine.Dimensions()
	}
	_, err := s.db.Exec(fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS memory_vec USING vec0(embedding float[%d])", dims))
	s.vecExt = err == nil
}

// SetEmbeddingEngine configures the engine after construction. Used by
// wiring code when embeddings come up later than the store.
func (s *Store) SetEmbeddingEngine(engine embedding.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = engine
}

// Ping verifies the connection, for doctor-style checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
