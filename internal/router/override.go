package router

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"deskd/internal/inference"
	"deskd/internal/types"
)

// Conversational override: memory_store and command classifications are the
// two spots where the router systematically mistakes conversational
// questions for actions. A narrow binary check corrects that one mistake.
// On "yes" the decision is replaced wholesale; on any failure of the check
// itself the original decision stands (fail-open).

const overridePrompt = `Is the following utterance conversational — a question or remark directed at the assistant — rather than a fact to store or a command to execute?

Utterance: %q

Answer with exactly one word: YES or NO.`

// ApplyOverride returns the decision to proceed with. The result is either
// the input unchanged or the fixed replacement decision, never a merge.
func (r *Router) ApplyOverride(ctx context.Context, utterance string, decision types.RoutingDecision) types.RoutingDecision {
	switch decision.PrimaryIntent {
	case types.IntentMemoryStore, types.IntentCommand:
	default:
		return decision
	}

	conversational, err := r.isConversational(ctx, utterance)
	if err != nil {
		r.log.Debug("override check failed, retaining decision", zap.Error(err))
		return decision
	}
	if !conversational {
		return decision
	}

	r.log.Debug("conversational override applied",
		zap.String("was", string(decision.PrimaryIntent)))
	return types.RoutingDecision{
		PrimaryIntent:       types.IntentMemoryRetrieve,
		Confidence:          decision.Confidence,
		Reasoning:           "conversational override: utterance reads as a question",
		Entities:            decision.Entities,
		NeedsSemanticSearch: true,
		NeedsOrchestration:  false,
		Method:              types.MethodOverride,
	}
}

// isConversational runs the binary classifier with a short timeout.
func (r *Router) isConversational(ctx context.Context, utterance string) (bool, error) {
	raw, err := r.client.Generate(ctx,
		fmt.Sprintf(overridePrompt, utterance),
		inference.RoutingOptions(r.cfg.OverrideTimeout))
	if err != nil {
		return false, err
	}

	answer := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(answer, "YES"):
		return true, nil
	case strings.HasPrefix(answer, "NO"):
		return false, nil
	default:
		return false, fmt.Errorf("unexpected override answer %q", raw)
	}
}
