package router

import (
	"strings"

	"deskd/internal/types"
)

// classifyKeywords is the deterministic last-resort pass. It always
// produces a decision so the pipeline never stalls; confidence is low by
// construction.
func (r *Router) classifyKeywords(utterance string) types.RoutingDecision {
	text := strings.ToLower(utterance)

	intent := types.IntentQuestion
	reason := "keyword fallback: default"
	switch {
	case mentionsScreenshot(text):
		intent = types.IntentCommand
		reason = "keyword fallback: screenshot"
	case strings.Contains(text, "remember") || strings.Contains(text, "store"):
		intent = types.IntentMemoryStore
		reason = "keyword fallback: remember/store"
	case strings.Contains(text, "recall") || strings.Contains(text, "what did i"):
		intent = types.IntentMemoryRetrieve
		reason = "keyword fallback: recall"
	case isGreeting(text):
		intent = types.IntentGreeting
		reason = "keyword fallback: greeting"
	}

	needsSearch, needsOrch := defaultFlags(intent)
	return types.RoutingDecision{
		PrimaryIntent:       intent,
		Confidence:          0.3,
		Reasoning:           reason,
		Entities:            extractEntities(utterance),
		NeedsSemanticSearch: needsSearch,
		NeedsOrchestration:  needsOrch,
		Method:              types.MethodKeywordFallback,
	}
}
