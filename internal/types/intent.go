package types

// Intent is one of the closed set of primary intents the router may produce.
// Anything outside this set coerces to IntentQuestion.
type Intent string

const (
	IntentMemoryStore    Intent = "memory_store"
	IntentMemoryRetrieve Intent = "memory_retrieve"
	IntentMemoryUpdate   Intent = "memory_update"
	IntentMemoryDelete   Intent = "memory_delete"
	IntentGreeting       Intent = "greeting"
	IntentQuestion       Intent = "question"
	IntentCommand        Intent = "command"
)

// AllIntents returns the closed intent set in a stable order.
// Used when building classifier instructions and validating output.
func AllIntents() []Intent {
	return []Intent{
		IntentMemoryStore,
		IntentMemoryRetrieve,
		IntentMemoryUpdate,
		IntentMemoryDelete,
		IntentGreeting,
		IntentQuestion,
		IntentCommand,
	}
}

// Valid reports whether the intent is in the closed set.
func (i Intent) Valid() bool {
	switch i {
	case IntentMemoryStore, IntentMemoryRetrieve, IntentMemoryUpdate,
		IntentMemoryDelete, IntentGreeting, IntentQuestion, IntentCommand:
		return true
	}
	return false
}

// CoerceIntent maps a raw classifier string onto the closed set.
// Out-of-set values coerce to IntentQuestion; the second return value
// reports whether the raw value was already valid.
func CoerceIntent(raw string) (Intent, bool) {
	i := Intent(raw)
	if i.Valid() {
		return i, true
	}
	return IntentQuestion, false
}

// RoutingMethod records which classification path produced a decision.
type RoutingMethod string

const (
	MethodStructural      RoutingMethod = "structural"
	MethodModel           RoutingMethod = "model"
	MethodKeywordFallback RoutingMethod = "keyword_fallback"
	MethodOverride        RoutingMethod = "override"
)
