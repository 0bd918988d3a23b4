// Package assistant is the request pipeline: storage write-through, staged
// semantic search, intent routing with the conversational override, and
// plan-driven orchestration, stitched in that order. The caller gets an
// immediate reply; orchestration runs detached and reports through the
// notifier.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deskd/internal/config"
	"deskd/internal/logging"
	"deskd/internal/notify"
	"deskd/internal/orchestrator"
	"deskd/internal/router"
	"deskd/internal/search"
	"deskd/internal/store"
	"deskd/internal/types"
)

// Request is one inbound utterance.
type Request struct {
	Text      string
	SessionID string
	Options   types.RequestOptions
}

// Source names the pipeline layer that produced the reply.
type Source string

const (
	SourceStore         Source = "store"
	SourceSearch        Source = "search"
	SourceDirect        Source = "direct"
	SourceOrchestration Source = "orchestration"
)

// Response is the immediate reply. Async marks a reply that acknowledges
// work continuing in the background; the final answer arrives as an
// orchestration-complete notification.
type Response struct {
	Text      string
	SessionID string
	Source    Source
	Async     bool
	Decision  *types.RoutingDecision
	Payload   *types.IntentClassificationPayload
}

// Assistant owns the per-session state and the pipeline components.
type Assistant struct {
	store    *store.Store
	search   *search.StagedSearch
	router   *router.Router
	orch     *orchestrator.Orchestrator
	notifier *notify.Notifier
	cfg      *config.Config
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session

	// background tracks detached orchestrations so Close can drain them.
	background sync.WaitGroup
}

type session struct {
	id   string
	conv *types.ConversationContext
}

// New wires the assistant from its already-constructed components.
func New(st *store.Store, sr *search.StagedSearch, rt *router.Router, orch *orchestrator.Orchestrator, notifier *notify.Notifier, cfg *config.Config) *Assistant {
	return &Assistant{
		store:    st,
		search:   sr,
		router:   rt,
		orch:     orch,
		notifier: notifier,
		cfg:      cfg,
		log:      logging.Named("assistant"),
		sessions: make(map[string]*session),
	}
}

// Handle runs the pipeline for one request and returns the immediate reply.
// It never returns an error to the caller; every failure mode degrades to a
// usable response.
func (a *Assistant) Handle(ctx context.Context, req Request) Response {
	text := strings.TrimSpace(req.Text)
	sess := a.session(req.SessionID)

	if text == "" {
		return Response{
			Text:      "I didn't catch that.",
			SessionID: sess.id,
			Source:    SourceDirect,
		}
	}

	sess.conv.Append(types.ConversationTurn{Role: types.RoleUser, Text: text, At: time.Now()})

	// Storage statements are written, not answered. The write happens here
	// so the user gets a truthful acknowledgment, and neither search nor
	// orchestration runs for them.
	if search.IsStorageStatement(text) {
		resp := a.writeThrough(ctx, sess, text)
		sess.conv.Append(types.ConversationTurn{Role: types.RoleAssistant, Text: resp.Text, At: time.Now()})
		return resp
	}

	if req.Options.PreferSemanticSearch {
		if result := a.search.Answer(ctx, text, sess.conv, sess.id); result.Success {
			a.log.Info("answered from memory", zap.Stringer("stage", result.Stage))
			sess.conv.Append(types.ConversationTurn{Role: types.RoleAssistant, Text: result.Response, At: time.Now()})
			return Response{
				Text:      result.Response,
				SessionID: sess.id,
				Source:    SourceSearch,
			}
		}
	}

	decision, payload := a.classify(ctx, text, req.Options, sess.id)
	a.log.Debug("classified",
		zap.String("intent", string(payload.PrimaryIntent)),
		zap.String("method", string(decision.Method)),
		zap.Float64("confidence", decision.Confidence))

	// The payload is the record of what was understood; it persists whether
	// or not execution goes anywhere.
	if err := a.store.LogClassification(ctx, sess.id, payload); err != nil {
		a.log.Warn("classification log failed", zap.Error(err))
	}

	resp := a.dispatch(ctx, sess, text, decision, req.Options)
	resp.Payload = &payload
	sess.conv.Append(types.ConversationTurn{Role: types.RoleAssistant, Text: resp.Text, At: time.Now()})
	return resp
}

// classify routes the utterance, applies the conversational override, and
// renders the canonical classification payload. With classification disabled,
// everything is treated as a question and the payload is the fallback
// template.
func (a *Assistant) classify(ctx context.Context, text string, opts types.RequestOptions, sessionID string) (types.RoutingDecision, types.IntentClassificationPayload) {
	if !opts.EnableIntentClassification {
		decision := types.RoutingDecision{
			PrimaryIntent:       types.IntentQuestion,
			Confidence:          1,
			Reasoning:           "classification disabled by request options",
			NeedsSemanticSearch: false,
			NeedsOrchestration:  true,
			Method:              types.MethodKeywordFallback,
		}
		return decision, router.FallbackPayload(text)
	}

	decision := a.router.Route(ctx, text)
	decision = a.router.ApplyOverride(ctx, text, decision)
	payload := router.BuildPayload(decision, text, map[string]string{"session_id": sessionID})
	return decision, payload
}

// dispatch either orchestrates in the background or answers synchronously.
// Detachment requires both the decision's orchestration flag and the
// request's orchestration option.
func (a *Assistant) dispatch(ctx context.Context, sess *session, text string, decision types.RoutingDecision, opts types.RequestOptions) Response {
	if decision.NeedsOrchestration && opts.UseAgentOrchestration {
		a.spawnOrchestration(text, decision)
		return Response{
			Text:      acknowledgment(decision.PrimaryIntent),
			SessionID: sess.id,
			Source:    SourceOrchestration,
			Async:     true,
			Decision:  &decision,
		}
	}

	result := a.orch.Ask(ctx, text, decision)
	return Response{
		Text:      result.Result.Normalize(),
		SessionID: sess.id,
		Source:    SourceDirect,
		Decision:  &decision,
	}
}

// spawnOrchestration runs the agent chain detached from the request. A
// panic or failure is logged and dropped; only successful completions
// become notifications.
func (a *Assistant) spawnOrchestration(text string, decision types.RoutingDecision) {
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("background orchestration panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.backgroundBudget())
		defer cancel()

		result := a.orch.Ask(ctx, text, decision)
		if !result.Success {
			a.log.Warn("background orchestration failed",
				zap.String("intent", string(decision.PrimaryIntent)))
			return
		}

		a.notifier.Publish(notify.Notification{
			Type:      notify.TypeOrchestrationComplete,
			Response:  result.Result.Normalize(),
			HandledBy: result.Metadata.AgentsUsed,
			Method:    decision.Method,
		})
	}()
}

// backgroundBudget bounds a detached run: every step's timeout plus slack
// for plan acquisition.
func (a *Assistant) backgroundBudget() time.Duration {
	step := a.cfg.Orchestrator.StepTimeout
	if step <= 0 {
		step = 45 * time.Second
	}
	return 4*step + 30*time.Second
}

// writeThrough stores a storage statement directly.
func (a *Assistant) writeThrough(ctx context.Context, sess *session, text string) Response {
	rec := &store.MemoryRecord{
		SessionID:     sess.id,
		SourceText:    text,
		PrimaryIntent: types.IntentMemoryStore,
	}
	if err := a.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, store.ErrMalformedContent) {
			return Response{
				Text:      "That looks like raw data rather than something to remember. Tell me in a sentence and I'll store it.",
				SessionID: sess.id,
				Source:    SourceStore,
			}
		}
		a.log.Error("memory write failed", zap.Error(err))
		return Response{
			Text:      "I couldn't save that just now.",
			SessionID: sess.id,
			Source:    SourceStore,
		}
	}
	return Response{
		Text:      "Got it, I'll remember that.",
		SessionID: sess.id,
		Source:    SourceStore,
	}
}

// acknowledgment is the immediate reply for a detached orchestration.
func acknowledgment(intent types.Intent) string {
	switch intent {
	case types.IntentMemoryStore:
		return "Saving that now."
	case types.IntentMemoryUpdate:
		return "Updating that now."
	case types.IntentMemoryDelete:
		return "Removing that now."
	case types.IntentCommand:
		return "On it."
	default:
		return "Let me work on that."
	}
}

// session returns the session for id, creating one (with a fresh id when
// empty) on first use.
func (a *Assistant) session(id string) *session {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if s, ok := a.sessions[id]; ok {
		return s
	}
	s := &session{
		id:   id,
		conv: types.NewConversationContext(a.cfg.Memory.ConversationWindow),
	}
	a.sessions[id] = s
	return s
}

// Sessions reports the number of live sessions.
func (a *Assistant) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Close waits for detached orchestrations to drain, bounded by the context.
func (a *Assistant) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background orchestrations still running: %w", ctx.Err())
	}
}
