package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deskd/internal/types"
)

// MemoryRecord is one stored memory.
type MemoryRecord struct {
	ID                string         `json:"id"`
	SessionID         string         `json:"session_id"`
	SourceText        string         `json:"source_text"`
	SuggestedResponse string         `json:"suggested_response,omitempty"`
	PrimaryIntent     types.Intent   `json:"primary_intent"`
	Entities          []types.Entity `json:"entities,omitempty"`
	ScreenshotPath    string         `json:"screenshot_path,omitempty"`
	ExtractedText     string         `json:"extracted_text,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Insert stores a record, generating an id when absent, and writes its
// embedding when an engine is configured. Source text that is serialized
// structure is rejected with ErrMalformedContent.
func (s *Store) Insert(ctx context.Context, rec *MemoryRecord) error {
	if looksLikeSerializedStructure(rec.SourceText) {
		return fmt.Errorf("%w: %.60q", ErrMalformedContent, rec.SourceText)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	entities, err := json.Marshal(rec.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories
			(id, session_id, source_text, suggested_response, primary_intent,
			 entities, screenshot_path, extracted_text, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.SourceText, rec.SuggestedResponse,
		string(rec.PrimaryIntent), string(entities), rec.ScreenshotPath,
		rec.ExtractedText, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	seq, err := res.LastInsertId()
	if err == nil && s.engine != nil {
		if embErr := s.writeEmbedding(ctx, seq, rec.SourceText); embErr != nil {
			// Embedding failure degrades to text-only search for this
			// record; the write itself stands.
			s.log.Warn("embedding write failed", zap.String("id", rec.ID), zap.Error(embErr))
		}
	}

	s.log.Debug("memory stored", zap.String("id", rec.ID), zap.String("intent", string(rec.PrimaryIntent)))
	return nil
}

// Get returns a record by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectMemories+" WHERE id = ?", id)
	rec, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// UpdateFields patches a record's mutable columns. Unknown field names are
// rejected; a missing id returns ErrNotFound.
func (s *Store) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	allowed := map[string]bool{
		"source_text":        true,
		"suggested_response": true,
		"primary_intent":     true,
		"entities":           true,
		"screenshot_path":    true,
		"extracted_text":     true,
	}

	var sets []string
	var args []any
	for name, value := range fields {
		if !allowed[name] {
			return fmt.Errorf("store: field %q is not updatable", name)
		}
		sets = append(sets, name+" = ?")
		args = append(args, value)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE memories SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes a record by id. A missing id returns ErrNotFound; deleting
// twice is safe and yields the same result.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seq int64
	err := s.db.QueryRowContext(ctx, "SELECT seq FROM memories WHERE id = ?", id).Scan(&seq)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete lookup: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE seq = ?", seq); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, "DELETE FROM memory_vectors WHERE seq = ?", seq)
	if s.vecExt {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM memory_vec WHERE rowid = ?", seq)
	}
	return nil
}

// SearchText returns records whose source text or suggested response
// contains the query substring, newest first, with ordered pagination.
func (s *Store) SearchText(ctx context.Context, query string, limit, offset int) ([]*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		selectMemories+` WHERE source_text LIKE ? OR suggested_response LIKE ?
		 ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`,
		pattern, pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// BySession returns a session's records, newest first.
func (s *Store) BySession(ctx context.Context, sessionID string, limit, offset int) ([]*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		selectMemories+` WHERE session_id = ?
		 ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("session query: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

const selectMemories = `SELECT id, session_id, source_text, suggested_response,
	primary_intent, entities, screenshot_path, extracted_text, created_at, updated_at
	FROM memories`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*MemoryRecord, error) {
	var rec MemoryRecord
	var intent, entities string
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.SourceText, &rec.SuggestedResponse,
		&intent, &entities, &rec.ScreenshotPath, &rec.ExtractedText,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.PrimaryIntent = types.Intent(intent)
	if entities != "" {
		_ = json.Unmarshal([]byte(entities), &rec.Entities)
	}
	return &rec, nil
}

func scanMemories(rows *sql.Rows) ([]*MemoryRecord, error) {
	var out []*MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// looksLikeSerializedStructure detects utterance text that is itself a
// serialized payload (JSON, XML-ish markup) rather than natural language.
func looksLikeSerializedStructure(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return json.Valid([]byte(trimmed))
	}
	if strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return true
	}
	return false
}
