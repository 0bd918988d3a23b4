package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deskd/internal/inference"
	"deskd/internal/types"
)

// Model-based classification: fixed instructions enumerating the closed
// intent set, the entity kinds, and worked examples. The model must answer
// with a single JSON object; anything unparseable is an error and the
// caller drops to keyword rules.

const classifierInstructions = `You classify one user utterance for a desktop assistant.

Allowed intents (use exactly one):
- memory_store: the user states a fact, plan, or preference to remember
- memory_retrieve: the user asks about something they said before
- memory_update: the user corrects or changes a stored fact
- memory_delete: the user asks to forget or remove a stored fact
- greeting: a salutation with no other content
- question: a general question or conversational remark
- command: an instruction to perform an action (open, capture, launch)

Entity types: time, date, topic, action, person, location.

Examples:
Utterance: "I have a dentist appointment at 3pm"
{"intent":"memory_store","confidence":0.92,"reasoning":"first-person schedule statement","entities":[{"type":"time","value":"3pm"},{"type":"topic","value":"dentist appointment"}],"needs_semantic_search":false,"needs_orchestration":true}

Utterance: "What did I say about the dentist?"
{"intent":"memory_retrieve","confidence":0.94,"reasoning":"asks about a prior statement","entities":[{"type":"topic","value":"dentist"}],"needs_semantic_search":true,"needs_orchestration":false}

Utterance: "Take a screenshot"
{"intent":"command","confidence":0.96,"reasoning":"imperative capture instruction","entities":[{"type":"action","value":"screenshot"}],"needs_semantic_search":false,"needs_orchestration":true}

Respond with ONE JSON object exactly in the shape above. No prose, no code fences.

Utterance: %q`

// modelDecision is the strict output contract for the classifier call.
type modelDecision struct {
	Intent              string         `json:"intent"`
	Confidence          float64        `json:"confidence"`
	Reasoning           string         `json:"reasoning"`
	Entities            []types.Entity `json:"entities"`
	NeedsSemanticSearch *bool          `json:"needs_semantic_search"`
	NeedsOrchestration  *bool          `json:"needs_orchestration"`
}

// classifyModel runs the slower model-based classifier.
func (r *Router) classifyModel(ctx context.Context, utterance string) (types.RoutingDecision, error) {
	prompt := fmt.Sprintf(classifierInstructions, utterance)

	raw, err := r.client.Generate(ctx, prompt, inference.RoutingOptions(r.cfg.OverrideTimeout))
	if err != nil {
		return types.RoutingDecision{}, fmt.Errorf("model classify: %w", err)
	}

	parsed, err := parseModelDecision(raw)
	if err != nil {
		return types.RoutingDecision{}, err
	}

	decision := types.RoutingDecision{
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
		Entities:   parsed.Entities,
		Method:     types.MethodModel,
	}
	decision = validate(decision, parsed.Intent)

	needsSearch, needsOrch := defaultFlags(decision.PrimaryIntent)
	if parsed.NeedsSemanticSearch != nil {
		needsSearch = *parsed.NeedsSemanticSearch
	}
	if parsed.NeedsOrchestration != nil {
		needsOrch = *parsed.NeedsOrchestration
	}
	decision.NeedsSemanticSearch = needsSearch
	decision.NeedsOrchestration = needsOrch
	return decision, nil
}

// parseModelDecision extracts the single JSON object from the model reply.
// Fences and surrounding prose are tolerated; a missing or invalid object
// is an error.
func parseModelDecision(raw string) (modelDecision, error) {
	var out modelDecision

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return out, fmt.Errorf("no JSON object in classifier output")
	}

	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("parse classifier output: %w", err)
	}
	if strings.TrimSpace(out.Intent) == "" {
		return out, fmt.Errorf("classifier output missing intent")
	}
	return out, nil
}
