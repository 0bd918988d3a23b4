// Package search implements staged semantic search: an escalating lookup
// across three scopes — current exchange, session, all history — that can
// answer an utterance before full classification and orchestration run.
// Each stage has its own timeout and short-circuits later stages on
// success. Stage failures (timeout, transport error, no answer) are never
// caller-visible errors.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deskd/internal/config"
	"deskd/internal/inference"
	"deskd/internal/logging"
	"deskd/internal/store"
	"deskd/internal/types"
)

// Stage identifies a search scope.
type Stage int

const (
	StageExchange Stage = iota + 1
	StageSession
	StageHistory
)

func (s Stage) String() string {
	switch s {
	case StageExchange:
		return "exchange"
	case StageSession:
		return "session"
	case StageHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Result is the outcome of one staged search.
type Result struct {
	Success  bool
	Response string
	Stage    Stage
	// Skipped marks the storage-statement pre-check: the utterance must be
	// written, not answered from memory, so no stage ran.
	Skipped bool
}

// noAnswerMarker is the reply the model is instructed to give when the
// snippets cannot answer the utterance.
const noAnswerMarker = "NO_ANSWER"

// StagedSearch runs the three-scope escalation.
type StagedSearch struct {
	client inference.Client
	store  *store.Store
	cfg    config.SearchConfig
	log    *zap.Logger
}

// New creates a staged search over the given client and store.
func New(client inference.Client, st *store.Store, cfg config.SearchConfig) *StagedSearch {
	return &StagedSearch{
		client: client,
		store:  st,
		cfg:    cfg,
		log:    logging.Named("search"),
	}
}

// Answer attempts to answer the utterance from memory. Storage statements
// skip all stages; the first successful stage short-circuits the rest.
func (s *StagedSearch) Answer(ctx context.Context, utterance string, conv *types.ConversationContext, sessionID string) Result {
	if IsStorageStatement(utterance) {
		s.log.Debug("storage statement, skipping staged search")
		return Result{Skipped: true}
	}

	stages := []struct {
		stage   Stage
		collect func() (snippets []string, err error)
	}{
		{StageExchange, func() ([]string, error) { return s.exchangeSnippets(conv), nil }},
		{StageSession, func() ([]string, error) { return s.sessionSnippets(ctx, sessionID) }},
		{StageHistory, func() ([]string, error) { return s.historySnippets(ctx, utterance) }},
	}

	for _, candidate := range stages {
		snippets, err := candidate.collect()
		if err != nil {
			s.log.Debug("stage snippet collection failed",
				zap.Stringer("stage", candidate.stage), zap.Error(err))
			continue
		}
		if len(snippets) == 0 {
			continue
		}

		response, ok := s.tryStage(ctx, candidate.stage, utterance, snippets)
		if ok {
			s.log.Debug("staged search hit", zap.Stringer("stage", candidate.stage))
			return Result{Success: true, Response: response, Stage: candidate.stage}
		}
	}

	return Result{}
}

// tryStage builds the prompt and queries the inference service under the
// stage's timeout. Any failure is a stage failure.
func (s *StagedSearch) tryStage(ctx context.Context, stage Stage, utterance string, snippets []string) (string, bool) {
	opts := inference.Options{
		Temperature: 0.2,
		MaxTokens:   s.cfg.MaxTokens,
		Timeout:     s.stageTimeout(stage),
	}

	prompt := buildStagePrompt(utterance, snippets)
	raw, err := s.client.Generate(ctx, prompt, opts)
	if err != nil {
		s.log.Debug("stage generation failed", zap.Stringer("stage", stage), zap.Error(err))
		return "", false
	}

	answer := strings.TrimSpace(raw)
	if answer == "" || strings.Contains(answer, noAnswerMarker) {
		return "", false
	}
	return answer, true
}

func (s *StagedSearch) stageTimeout(stage Stage) time.Duration {
	switch stage {
	case StageExchange:
		return s.cfg.ExchangeTimeout
	case StageSession:
		return s.cfg.SessionTimeout
	default:
		return s.cfg.HistoryTimeout
	}
}

// exchangeSnippets renders the bounded conversation window.
func (s *StagedSearch) exchangeSnippets(conv *types.ConversationContext) []string {
	if conv == nil {
		return nil
	}
	var snippets []string
	for _, turn := range conv.Turns() {
		snippets = append(snippets, fmt.Sprintf("%s: %s", turn.Role, turn.Text))
	}
	return snippets
}

// sessionSnippets pulls the current session's stored memories.
func (s *StagedSearch) sessionSnippets(ctx context.Context, sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, nil
	}
	records, err := s.store.BySession(ctx, sessionID, s.cfg.SnippetLimit, 0)
	if err != nil {
		return nil, err
	}
	return renderRecords(records), nil
}

// historySnippets runs vector similarity across all history.
func (s *StagedSearch) historySnippets(ctx context.Context, utterance string) ([]string, error) {
	scored, err := s.store.SearchSimilar(ctx, utterance, s.cfg.SnippetLimit)
	if err != nil {
		return nil, err
	}
	records := make([]*store.MemoryRecord, len(scored))
	for i, sr := range scored {
		records[i] = sr.Record
	}
	return renderRecords(records), nil
}

func renderRecords(records []*store.MemoryRecord) []string {
	var snippets []string
	for _, rec := range records {
		line := rec.SourceText
		if rec.SuggestedResponse != "" {
			line += " (assistant: " + rec.SuggestedResponse + ")"
		}
		snippets = append(snippets, line)
	}
	return snippets
}

func buildStagePrompt(utterance string, snippets []string) string {
	var b strings.Builder
	b.WriteString("Answer the user's question using ONLY the context below.\n")
	b.WriteString("If the context does not contain the answer, reply with exactly ")
	b.WriteString(noAnswerMarker)
	b.WriteString(" and nothing else.\n\nContext:\n")
	for _, snippet := range snippets {
		b.WriteString("- ")
		b.WriteString(snippet)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(utterance)
	return b.String()
}

// IsStorageStatement is the cheap pre-check for learning/storage
// statements. Positive matches must be written to memory, never answered
// from it.
func IsStorageStatement(utterance string) bool {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" || strings.HasSuffix(text, "?") {
		return false
	}
	leads := []string{
		"remember", "note that", "don't forget", "dont forget",
		"keep in mind", "save this", "store this", "i have a", "i have an",
		"i need to", "i will ", "i'll ", "my appointment", "my meeting",
	}
	for _, lead := range leads {
		if strings.HasPrefix(text, lead) {
			return true
		}
	}
	return false
}
