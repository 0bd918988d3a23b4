package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"deskd/internal/embedding"
)

// writeEmbedding stores the embedding for one memory row. Callers hold the
// write lock.
func (s *Store) writeEmbedding(ctx context.Context, seq int64, text string) error {
	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO memory_vectors (seq, embedding) VALUES (?, ?)",
		seq, string(raw)); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}

	if s.vecExt {
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO memory_vec (rowid, embedding) VALUES (?, ?)",
			seq, string(raw)); err != nil {
			return fmt.Errorf("store vec0 embedding: %w", err)
		}
	}
	return nil
}

// ScoredRecord pairs a record with its similarity to a query.
type ScoredRecord struct {
	Record     *MemoryRecord
	Similarity float64
}

// SearchSimilar returns the records most similar to the query text,
// descending by cosine similarity. Without an embedding engine it degrades
// to substring search with zero scores.
func (s *Store) SearchSimilar(ctx context.Context, query string, limit int) ([]ScoredRecord, error) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}
	if engine == nil {
		recs, err := s.SearchText(ctx, query, limit, 0)
		if err != nil {
			return nil, err
		}
		out := make([]ScoredRecord, len(recs))
		for i, rec := range recs {
			out[i] = ScoredRecord{Record: rec}
		}
		return out, nil
	}

	queryVec, err := engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vecExt {
		return s.searchVec0(ctx, queryVec, limit)
	}
	return s.searchCosine(ctx, queryVec, limit)
}

// searchVec0 runs a KNN query through the vec0 virtual table.
func (s *Store) searchVec0(ctx context.Context, queryVec []float32, limit int) ([]ScoredRecord, error) {
	raw, err := json.Marshal(queryVec)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, v.distance
		FROM memory_vec v
		JOIN memories m ON m.seq = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		string(raw), limit)
	if err != nil {
		return nil, fmt.Errorf("vec0 search: %w", err)
	}
	defer rows.Close()

	type hit struct {
		id       string
		distance float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ScoredRecord, 0, len(hits))
	for _, h := range hits {
		row := s.db.QueryRowContext(ctx, selectMemories+" WHERE id = ?", h.id)
		rec, err := scanMemory(row)
		if err != nil {
			continue
		}
		// vec0 reports cosine distance; similarity = 1 - distance.
		out = append(out, ScoredRecord{Record: rec, Similarity: 1 - h.distance})
	}
	return out, nil
}

// searchCosine ranks all stored embeddings in process. Memory volumes here
// are a single user's assistant history, so a full scan stays cheap.
func (s *Store) searchCosine(ctx context.Context, queryVec []float32, limit int) ([]ScoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, v.embedding
		FROM memory_vectors v
		JOIN memories m ON m.seq = v.seq`)
	if err != nil {
		return nil, fmt.Errorf("cosine scan: %w", err)
	}
	defer rows.Close()

	type hit struct {
		id         string
		similarity float64
	}
	var hits []hit
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		hits = append(hits, hit{id: id, similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].similarity > hits[j].similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]ScoredRecord, 0, len(hits))
	for _, h := range hits {
		row := s.db.QueryRowContext(ctx, selectMemories+" WHERE id = ?", h.id)
		rec, err := scanMemory(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredRecord{Record: rec, Similarity: h.similarity})
	}
	return out, nil
}
