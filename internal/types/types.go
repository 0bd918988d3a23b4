// Package types holds the shared data model for the deskd decision core:
// utterances, routing decisions, classification payloads, execution plans,
// chain contexts, and the response envelope agents return.
package types

import (
	"time"
)

// RequestOptions are the request-scoped switches carried by an Utterance.
type RequestOptions struct {
	PreferSemanticSearch       bool `json:"prefer_semantic_search"`
	EnableIntentClassification bool `json:"enable_intent_classification"`
	UseAgentOrchestration      bool `json:"use_agent_orchestration"`
}

// DefaultRequestOptions enables the full pipeline.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		PreferSemanticSearch:       true,
		EnableIntentClassification: true,
		UseAgentOrchestration:      true,
	}
}

// Utterance is one raw user input plus its request options. Immutable after
// construction.
type Utterance struct {
	Text       string
	Options    RequestOptions
	ReceivedAt time.Time
}

// NewUtterance stamps the utterance with the current time.
func NewUtterance(text string, opts RequestOptions) Utterance {
	return Utterance{Text: text, Options: opts, ReceivedAt: time.Now()}
}

// TurnRole identifies the speaker of a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// ConversationTurn is one prior exchange entry.
type ConversationTurn struct {
	Role TurnRole  `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ConversationContext is a bounded ordered window of prior turns. Appending
// beyond the window drops the oldest turn. The core reads it; only the
// assistant glue appends.
type ConversationContext struct {
	turns []ConversationTurn
	limit int
}

// DefaultConversationWindow is the number of turns retained when no limit is
// configured.
const DefaultConversationWindow = 8

// NewConversationContext creates a window holding at most limit turns.
func NewConversationContext(limit int) *ConversationContext {
	if limit <= 0 {
		limit = DefaultConversationWindow
	}
	return &ConversationContext{limit: limit}
}

// Append adds a turn, evicting the oldest when the window is full.
func (c *ConversationContext) Append(turn ConversationTurn) {
	c.turns = append(c.turns, turn)
	if len(c.turns) > c.limit {
		c.turns = c.turns[len(c.turns)-c.limit:]
	}
}

// Turns returns a copy of the window, oldest first.
func (c *ConversationContext) Turns() []ConversationTurn {
	out := make([]ConversationTurn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of retained turns.
func (c *ConversationContext) Len() int { return len(c.turns) }

// Entity is a typed span the router extracted from the utterance.
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// RoutingDecision is the router's conclusion for one utterance. Produced
// once; the conversational override may replace it wholesale, never merge.
type RoutingDecision struct {
	PrimaryIntent       Intent        `json:"primary_intent"`
	Confidence          float64       `json:"confidence"`
	Reasoning           string        `json:"reasoning"`
	Entities            []Entity      `json:"entities,omitempty"`
	NeedsSemanticSearch bool          `json:"needs_semantic_search"`
	NeedsOrchestration  bool          `json:"needs_orchestration"`
	Method              RoutingMethod `json:"method"`
}

// IntentClassificationPayload is the canonical record of what was understood,
// persisted independently of eventual execution.
type IntentClassificationPayload struct {
	PrimaryIntent        Intent            `json:"primary_intent"`
	Intents              []Intent          `json:"intents"`
	Entities             []Entity          `json:"entities,omitempty"`
	RequiresMemoryAccess bool              `json:"requires_memory_access"`
	RequiresExternalData bool              `json:"requires_external_data"`
	CaptureScreen        bool              `json:"capture_screen"`
	SuggestedResponse    string            `json:"suggested_response,omitempty"`
	SourceText           string            `json:"source_text"`
	Timestamp            time.Time         `json:"timestamp"`
	ContextMetadata      map[string]string `json:"context_metadata,omitempty"`
}
