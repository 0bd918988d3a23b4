package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"deskd/internal/types"
)

// Interaction is the persisted record of one orchestrated request: what was
// asked, what was understood, what ran, and how it ended. Failures are
// persisted too so they stay diagnosable.
type Interaction struct {
	ID         string              `json:"id"`
	Utterance  string              `json:"utterance"`
	Intent     types.Intent        `json:"intent"`
	Plan       types.ExecutionPlan `json:"plan"`
	Result     types.AskResult     `json:"result"`
	Success    bool                `json:"success"`
	DurationMs int64               `json:"duration_ms"`
	CreatedAt  time.Time           `json:"created_at"`
}

// LogInteraction persists one orchestrator run.
func (s *Store) LogInteraction(ctx context.Context, it *Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	it.CreatedAt = time.Now().UTC()

	plan, err := json.Marshal(it.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	result, err := json.Marshal(it.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	success := 0
	if it.Success {
		success = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, utterance, intent, plan, result, success, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Utterance, string(it.Intent), string(plan), string(result),
		success, it.DurationMs, it.CreatedAt)
	if err != nil {
		return fmt.Errorf("log interaction: %w", err)
	}
	return nil
}

// RecentInteractions returns the latest runs, newest first.
func (s *Store) RecentInteractions(ctx context.Context, limit int) ([]*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, utterance, intent, plan, result, success, duration_ms, created_at
		 FROM interactions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent interactions: %w", err)
	}
	defer rows.Close()

	var out []*Interaction
	for rows.Next() {
		var it Interaction
		var intent, plan, result string
		var success int
		if err := rows.Scan(&it.ID, &it.Utterance, &intent, &plan, &result,
			&success, &it.DurationMs, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Intent = types.Intent(intent)
		it.Success = success == 1
		_ = json.Unmarshal([]byte(plan), &it.Plan)
		_ = json.Unmarshal([]byte(result), &it.Result)
		out = append(out, &it)
	}
	return out, rows.Err()
}
