package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"deskd/internal/types"
)

// ClassificationRecord is one persisted classification payload: what the
// router understood about an utterance, recorded whether or not the request
// went on to execute.
type ClassificationRecord struct {
	ID        string                            `json:"id"`
	SessionID string                            `json:"session_id"`
	Payload   types.IntentClassificationPayload `json:"payload"`
	CreatedAt time.Time                         `json:"created_at"`
}

// LogClassification persists one classification payload for a session.
func (s *Store) LogClassification(ctx context.Context, sessionID string, payload types.IntentClassificationPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO classifications (id, session_id, source_text, primary_intent, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, payload.SourceText,
		string(payload.PrimaryIntent), string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("log classification: %w", err)
	}
	return nil
}

// ClassificationsBySession returns a session's classification records,
// newest first.
func (s *Store) ClassificationsBySession(ctx context.Context, sessionID string, limit int) ([]*ClassificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, payload, created_at FROM classifications
		 WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session classifications: %w", err)
	}
	defer rows.Close()

	var out []*ClassificationRecord
	for rows.Next() {
		var rec ClassificationRecord
		var raw string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &raw, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &rec.Payload); err != nil {
			return nil, fmt.Errorf("parse classification payload: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
