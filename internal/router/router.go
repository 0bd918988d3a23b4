// Package router determines the primary intent of an utterance. A fast
// structural pass answers or abstains; abstention escalates to a model
// classifier with strict structured output; unparseable model output drops
// to deterministic keyword rules. The pipeline always produces a decision
// from the closed intent set, never an error.
package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"deskd/internal/config"
	"deskd/internal/inference"
	"deskd/internal/logging"
	"deskd/internal/types"
)

// Router classifies utterances. Construct one per assistant; it carries no
// request state.
type Router struct {
	client inference.Client
	cfg    config.RouterConfig
	log    *zap.Logger
}

// New creates a router with the given inference client and config.
func New(client inference.Client, cfg config.RouterConfig) *Router {
	return &Router{
		client: client,
		cfg:    cfg,
		log:    logging.Named("router"),
	}
}

// Route produces the routing decision for one utterance. Classification
// ambiguity resolves through the structural → model → keyword → question
// chain; Route never returns an error.
func (r *Router) Route(ctx context.Context, utterance string) types.RoutingDecision {
	if decision, ok := r.classifyStructural(utterance); ok {
		r.log.Debug("structural classification",
			zap.String("intent", string(decision.PrimaryIntent)),
			zap.Float64("confidence", decision.Confidence))
		return decision
	}

	decision, err := r.classifyModel(ctx, utterance)
	if err != nil {
		r.log.Debug("model classification failed, using keyword fallback", zap.Error(err))
		return r.classifyKeywords(utterance)
	}
	r.log.Debug("model classification",
		zap.String("intent", string(decision.PrimaryIntent)),
		zap.Float64("confidence", decision.Confidence))
	return decision
}

// validate coerces a raw intent onto the closed set, recording the reason
// when coercion happened.
func validate(decision types.RoutingDecision, raw string) types.RoutingDecision {
	intent, ok := types.CoerceIntent(raw)
	decision.PrimaryIntent = intent
	if !ok {
		decision.Reasoning = "intent " + raw + " outside closed set, coerced to question; " + decision.Reasoning
		decision.NeedsSemanticSearch = true
	}
	if decision.Confidence < 0 {
		decision.Confidence = 0
	}
	if decision.Confidence > 1 {
		decision.Confidence = 1
	}
	return decision
}

// defaultFlags fills the follow-up flags an intent implies when the
// classifier did not set them explicitly.
func defaultFlags(intent types.Intent) (needsSearch, needsOrchestration bool) {
	switch intent {
	case types.IntentMemoryRetrieve:
		return true, false
	case types.IntentGreeting:
		return false, false
	case types.IntentQuestion:
		return true, true
	default: // memory_store, memory_update, memory_delete, command
		return false, true
	}
}

// BuildPayload converts a decision into the canonical classification
// payload, the persisted record of what was understood.
func BuildPayload(decision types.RoutingDecision, sourceText string, contextMeta map[string]string) types.IntentClassificationPayload {
	intent := decision.PrimaryIntent
	memoryAccess := false
	switch intent {
	case types.IntentMemoryStore, types.IntentMemoryRetrieve,
		types.IntentMemoryUpdate, types.IntentMemoryDelete:
		memoryAccess = true
	}

	captureScreen := false
	if intent == types.IntentCommand && mentionsScreenshot(sourceText) {
		captureScreen = true
	}

	return types.IntentClassificationPayload{
		PrimaryIntent:        intent,
		Intents:              []types.Intent{intent},
		Entities:             decision.Entities,
		RequiresMemoryAccess: memoryAccess,
		RequiresExternalData: intent == types.IntentQuestion,
		CaptureScreen:        captureScreen,
		SourceText:           sourceText,
		Timestamp:            time.Now(),
		ContextMetadata:      contextMeta,
	}
}

// FallbackPayload is the fixed template used when routing itself failed.
// The pipeline persists what it could not understand rather than stalling.
func FallbackPayload(sourceText string) types.IntentClassificationPayload {
	return types.IntentClassificationPayload{
		PrimaryIntent:        types.IntentQuestion,
		Intents:              []types.Intent{types.IntentQuestion},
		RequiresMemoryAccess: false,
		RequiresExternalData: true,
		SourceText:           sourceText,
		Timestamp:            time.Now(),
		ContextMetadata:      map[string]string{"classification": "fallback"},
	}
}
