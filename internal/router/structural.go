package router

import (
	"regexp"
	"strings"

	"deskd/internal/types"
)

// Structural classification: token and pattern heuristics that either score
// an intent confidently or abstain so the model classifier can take over.

var (
	timePattern = regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s?(am|pm)\b|\b\d{1,2}:\d{2}\b`)
	datePattern = regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|monday|tuesday|wednesday|thursday|friday|saturday|sunday|next week|next month)\b`)
	topicAfterAbout = regexp.MustCompile(`(?i)\babout\s+(?:the\s+)?([a-z0-9' -]{2,40})`)
)

var greetingPhrases = []string{
	"hi", "hello", "hey", "howdy", "good morning", "good afternoon",
	"good evening", "what's up", "whats up", "yo",
}

var screenshotPhrases = []string{
	"screenshot", "screen shot", "capture the screen", "capture my screen",
	"grab the screen",
}

var commandVerbs = []string{
	"open", "close", "launch", "start", "stop", "quit", "take", "capture",
	"run", "execute",
}

var storeLeads = []string{
	"remember", "note that", "don't forget", "dont forget", "keep in mind",
	"save this", "store this", "i have a", "i have an", "my ", "i am ", "i'm ",
	"i need to", "i will ", "i'll ",
}

var retrieveLeads = []string{
	"what did i say", "what did i tell", "do you remember", "recall",
	"what's my", "whats my", "what is my", "when is my", "when's my",
	"did i mention", "remind me what",
}

var updateLeads = []string{
	"update my", "change my", "correct that", "actually it's", "actually its",
	"move my",
}

var deleteLeads = []string{
	"forget", "delete that", "remove that", "erase", "never mind what i said",
}

// classifyStructural runs the fast pass. The second return value is false
// when the pass abstains.
func (r *Router) classifyStructural(utterance string) (types.RoutingDecision, bool) {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return types.RoutingDecision{}, false
	}

	if isGreeting(text) {
		return r.accept(types.IntentGreeting, 0.95, "greeting lexicon match", nil)
	}

	if mentionsScreenshot(text) {
		entities := []types.Entity{{Type: "action", Value: "screenshot"}}
		return r.accept(types.IntentCommand, 0.90, "screenshot phrase match", entities)
	}

	if lead, ok := matchLead(text, retrieveLeads); ok {
		return r.accept(types.IntentMemoryRetrieve, 0.85, "recall phrasing: "+lead, extractEntities(utterance))
	}

	if lead, ok := matchLead(text, updateLeads); ok {
		return r.accept(types.IntentMemoryUpdate, 0.80, "update phrasing: "+lead, extractEntities(utterance))
	}

	if lead, ok := matchLead(text, deleteLeads); ok {
		return r.accept(types.IntentMemoryDelete, 0.80, "deletion phrasing: "+lead, extractEntities(utterance))
	}

	if lead, ok := matchLead(text, storeLeads); ok {
		// First-person statements with a schedule marker are storage with
		// high confidence; bare "my ..." leads are weaker and only pass
		// when something concrete (time/date) backs them.
		conf := 0.75
		if timePattern.MatchString(text) || datePattern.MatchString(text) {
			conf = 0.88
		} else if lead == "my " || lead == "i am " || lead == "i'm " {
			return types.RoutingDecision{}, false
		}
		if conf < r.cfg.StructuralThreshold {
			return types.RoutingDecision{}, false
		}
		return r.accept(types.IntentMemoryStore, conf, "storage phrasing: "+lead, extractEntities(utterance))
	}

	if first, ok := firstWord(text); ok && containsWord(commandVerbs, first) {
		return r.accept(types.IntentCommand, 0.78, "imperative verb: "+first, extractEntities(utterance))
	}

	// Question shapes are left to the model classifier: the structural pass
	// cannot distinguish chit-chat from memory questions reliably.
	return types.RoutingDecision{}, false
}

// accept finalizes a structural decision, enforcing the config threshold.
func (r *Router) accept(intent types.Intent, confidence float64, reasoning string, entities []types.Entity) (types.RoutingDecision, bool) {
	if confidence < r.cfg.StructuralThreshold {
		return types.RoutingDecision{}, false
	}
	needsSearch, needsOrch := defaultFlags(intent)
	return types.RoutingDecision{
		PrimaryIntent:       intent,
		Confidence:          confidence,
		Reasoning:           reasoning,
		Entities:            entities,
		NeedsSemanticSearch: needsSearch,
		NeedsOrchestration:  needsOrch,
		Method:              types.MethodStructural,
	}, true
}

func isGreeting(text string) bool {
	trimmed := strings.Trim(text, " !.?,")
	for _, g := range greetingPhrases {
		if trimmed == g || strings.HasPrefix(trimmed, g+" there") || strings.HasPrefix(trimmed, g+" deskd") {
			return true
		}
	}
	return false
}

func mentionsScreenshot(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range screenshotPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func matchLead(text string, leads []string) (string, bool) {
	for _, lead := range leads {
		if strings.HasPrefix(text, lead) {
			return lead, true
		}
	}
	return "", false
}

func firstWord(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	return strings.Trim(fields[0], ",.!?"), true
}

func containsWord(words []string, w string) bool {
	for _, candidate := range words {
		if candidate == w {
			return true
		}
	}
	return false
}

// extractEntities pulls the cheap structured spans: times, dates, and the
// topic following "about".
func extractEntities(utterance string) []types.Entity {
	var entities []types.Entity
	if m := timePattern.FindString(utterance); m != "" {
		entities = append(entities, types.Entity{Type: "time", Value: strings.TrimSpace(m)})
	}
	if m := datePattern.FindString(utterance); m != "" {
		entities = append(entities, types.Entity{Type: "date", Value: strings.ToLower(strings.TrimSpace(m))})
	}
	if m := topicAfterAbout.FindStringSubmatch(utterance); len(m) == 2 {
		entities = append(entities, types.Entity{Type: "topic", Value: strings.TrimSpace(strings.Trim(m[1], " ?.!"))})
	}
	return entities
}
