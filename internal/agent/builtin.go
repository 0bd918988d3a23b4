package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deskd/internal/inference"
	"deskd/internal/store"
	"deskd/internal/types"
)

// Builtin agents: the statically linked behavior units selected by name
// from the registry. Each is a plain struct with its dependencies injected
// at construction.

// BuiltinDeps carries the capability bundle builtin agents run with.
type BuiltinDeps struct {
	Store           *store.Store
	Client          inference.Client
	GenerateTimeout time.Duration
}

// RegisterBuiltins installs the static agent set into the registry.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) {
	reg.MustRegister(&memoryStoreAgent{deps: deps})
	reg.MustRegister(&memoryRetrieveAgent{deps: deps})
	reg.MustRegister(&memoryUpdateAgent{deps: deps})
	reg.MustRegister(&memoryDeleteAgent{deps: deps})
	reg.MustRegister(&greetingAgent{})
	reg.MustRegister(&questionAgent{deps: deps})
	reg.MustRegister(&commandAgent{})
	reg.MustRegister(&plannerAgent{deps: deps})
}

// ----- memory_store -----

type memoryStoreAgent struct {
	deps BuiltinDeps
}

func (a *memoryStoreAgent) Name() string     { return "memory_store" }
func (a *memoryStoreAgent) Describe() string { return "writes an utterance into long-term memory" }

func (a *memoryStoreAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	rec := &store.MemoryRecord{
		SourceText:    input,
		PrimaryIntent: types.IntentMemoryStore,
	}
	if err := a.deps.Store.Insert(ctx, rec); err != nil {
		return types.EmptyEnvelope(), err
	}
	return types.StructuredEnvelope(map[string]any{
		"response":  "Noted. I'll remember that.",
		"record_id": rec.ID,
	}), nil
}

// ----- memory_retrieve -----

type memoryRetrieveAgent struct {
	deps BuiltinDeps
}

func (a *memoryRetrieveAgent) Name() string { return "memory_retrieve" }
func (a *memoryRetrieveAgent) Describe() string {
	return "answers from stored memories via similarity search"
}

func (a *memoryRetrieveAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	records, err := findCandidates(ctx, a.deps.Store, input, 5)
	if err != nil {
		return types.EmptyEnvelope(), err
	}
	if len(records) == 0 {
		return types.TextEnvelope("I don't have anything stored about that."), nil
	}

	var b strings.Builder
	b.WriteString("The user asked: ")
	b.WriteString(input)
	b.WriteString("\n\nStored memories:\n")
	for _, rec := range records {
		b.WriteString("- ")
		b.WriteString(rec.SourceText)
		b.WriteString("\n")
	}
	b.WriteString("\nAnswer the question from these memories, briefly.")

	answer, err := a.deps.Client.Generate(ctx, b.String(), inference.Options{
		Temperature: 0.3,
		MaxTokens:   512,
		Timeout:     a.deps.GenerateTimeout,
	})
	if err != nil {
		// The memories themselves are still an answer of sorts.
		return types.TextEnvelope("Here's what I have: " + records[0].SourceText), nil
	}
	return types.TextEnvelope(answer), nil
}

// findCandidates locates memories relevant to the input: vector similarity
// when an engine is wired, widening to per-term substring search when the
// whole-input lookup comes back empty.
func findCandidates(ctx context.Context, st *store.Store, input string, limit int) ([]*store.MemoryRecord, error) {
	scored, err := st.SearchSimilar(ctx, input, limit)
	if err != nil {
		return nil, err
	}
	if len(scored) > 0 {
		records := make([]*store.MemoryRecord, len(scored))
		for i, sr := range scored {
			records[i] = sr.Record
		}
		return records, nil
	}

	seen := make(map[string]bool)
	var records []*store.MemoryRecord
	for _, term := range searchTerms(input) {
		hits, err := st.SearchText(ctx, term, limit, 0)
		if err != nil {
			return nil, err
		}
		for _, rec := range hits {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			records = append(records, rec)
			if len(records) >= limit {
				return records, nil
			}
		}
	}
	return records, nil
}

// searchTerms keeps the words worth matching on.
func searchTerms(input string) []string {
	stop := map[string]bool{
		"what": true, "when": true, "where": true, "who": true, "did": true,
		"does": true, "about": true, "the": true, "that": true, "this": true,
		"have": true, "say": true, "said": true, "tell": true, "told": true,
		"you": true, "your": true, "remember": true, "recall": true, "change": true,
		"update": true, "forget": true, "delete": true, "remove": true, "with": true,
	}
	var terms []string
	for _, field := range strings.Fields(strings.ToLower(input)) {
		word := strings.Trim(field, "?!.,'\"")
		if len(word) <= 3 || stop[word] {
			continue
		}
		terms = append(terms, word)
	}
	return terms
}

// ----- memory_update -----

type memoryUpdateAgent struct {
	deps BuiltinDeps
}

func (a *memoryUpdateAgent) Name() string     { return "memory_update" }
func (a *memoryUpdateAgent) Describe() string { return "revises the closest matching stored memory" }

func (a *memoryUpdateAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	records, err := findCandidates(ctx, a.deps.Store, input, 1)
	if err != nil {
		return types.EmptyEnvelope(), err
	}
	if len(records) == 0 {
		return types.EmptyEnvelope(), fmt.Errorf("no stored memory matches %q", input)
	}

	target := records[0]
	if err := a.deps.Store.UpdateFields(ctx, target.ID, map[string]any{
		"source_text": input,
	}); err != nil {
		return types.EmptyEnvelope(), err
	}
	return types.StructuredEnvelope(map[string]any{
		"response":  "Updated.",
		"record_id": target.ID,
	}), nil
}

// ----- memory_delete -----

type memoryDeleteAgent struct {
	deps BuiltinDeps
}

func (a *memoryDeleteAgent) Name() string     { return "memory_delete" }
func (a *memoryDeleteAgent) Describe() string { return "forgets the closest matching stored memory" }

func (a *memoryDeleteAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	records, err := findCandidates(ctx, a.deps.Store, input, 1)
	if err != nil {
		return types.EmptyEnvelope(), err
	}
	if len(records) == 0 {
		return types.TextEnvelope("There's nothing stored matching that."), nil
	}
	if err := a.deps.Store.Delete(ctx, records[0].ID); err != nil {
		return types.EmptyEnvelope(), err
	}
	return types.StructuredEnvelope(map[string]any{
		"response": "Forgotten.",
	}), nil
}

// ----- greeting -----

type greetingAgent struct{}

func (a *greetingAgent) Name() string     { return "greeting" }
func (a *greetingAgent) Describe() string { return "answers salutations" }

func (a *greetingAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	return types.TextEnvelope("Hey! What can I do for you?"), nil
}

// ----- question -----

type questionAgent struct {
	deps BuiltinDeps
}

func (a *questionAgent) Name() string     { return "question" }
func (a *questionAgent) Describe() string { return "answers general questions" }

func (a *questionAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	prompt := input
	if len(chain.Steps) > 0 {
		var b strings.Builder
		b.WriteString("Context from earlier steps:\n")
		for _, step := range chain.Steps {
			if step.Success {
				b.WriteString("- ")
				b.WriteString(step.Result.Normalize())
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
		b.WriteString(input)
		prompt = b.String()
	}

	answer, err := a.deps.Client.Generate(ctx, prompt, inference.Options{
		Temperature: 0.7,
		MaxTokens:   1024,
		Timeout:     a.deps.GenerateTimeout,
	})
	if err != nil {
		return types.EmptyEnvelope(), err
	}
	return types.TextEnvelope(answer), nil
}

// ----- command -----

type commandAgent struct{}

func (a *commandAgent) Name() string     { return "command" }
func (a *commandAgent) Describe() string { return "translates action requests for the host shell" }

func (a *commandAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "screenshot") || strings.Contains(lower, "screen shot") ||
		strings.Contains(lower, "capture the screen") || strings.Contains(lower, "capture my screen") {
		// Actual capture belongs to the presentation layer; the agent only
		// records the request.
		return types.StructuredEnvelope(map[string]any{
			"action":   "capture_screen",
			"response": "Capturing your screen.",
		}), nil
	}
	return types.StructuredEnvelope(map[string]any{
		"action":   "unsupported",
		"response": "I can't run that command yet.",
	}), nil
}

// ----- planner -----

// plannerAgent asks the model for an ordered step list. Output is a JSON
// array of {"agent","input"}; the orchestrator parses it and degrades to a
// single-step plan when parsing fails.
type plannerAgent struct {
	deps BuiltinDeps
}

func (a *plannerAgent) Name() string     { return "planner" }
func (a *plannerAgent) Describe() string { return "builds execution plans for ambiguous requests" }

const plannerPrompt = `Plan how to handle this request with the available agents.

Available agents:
%s

Request: %q
Primary intent: %s

Respond with ONLY a JSON array of steps, each {"agent": "<name>", "input": "<text>"}.
Use the fewest steps that satisfy the request.`

func (a *plannerAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	listing := []string{
		"memory_store: writes an utterance into long-term memory",
		"memory_retrieve: answers from stored memories",
		"memory_update: revises a stored memory",
		"memory_delete: forgets a stored memory",
		"question: answers general questions",
		"command: translates action requests",
	}
	prompt := fmt.Sprintf(plannerPrompt, strings.Join(listing, "\n"), input, chain.Intent)

	raw, err := a.deps.Client.Generate(ctx, prompt, inference.Options{
		Temperature: 0,
		MaxTokens:   512,
		Timeout:     a.deps.GenerateTimeout,
	})
	if err != nil {
		return types.EmptyEnvelope(), err
	}
	return types.TextEnvelope(raw), nil
}
