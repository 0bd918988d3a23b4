package assistant

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskd/internal/agent"
	"deskd/internal/config"
	"deskd/internal/inference"
	"deskd/internal/notify"
	"deskd/internal/orchestrator"
	"deskd/internal/router"
	"deskd/internal/search"
	"deskd/internal/store"
	"deskd/internal/types"
)

// pipelineClient answers by prompt shape so one fake serves the router, the
// staged search, and the builtin agents.
type pipelineClient struct {
	answer string
}

func (c *pipelineClient) Generate(ctx context.Context, prompt string, opts inference.Options) (string, error) {
	switch {
	case strings.Contains(prompt, "Answer with exactly one word"):
		return "NO", nil
	case strings.Contains(prompt, "You classify one user utterance"):
		return `{"intent":"question","confidence":0.5,"reasoning":"fake"}`, nil
	case strings.Contains(prompt, "NO_ANSWER"):
		return "NO_ANSWER", nil
	case strings.Contains(prompt, "JSON array of steps"):
		return `[{"agent":"question","input":"answer it"}]`, nil
	default:
		if c.answer == "" {
			return "generated answer", nil
		}
		return c.answer, nil
	}
}

type fixture struct {
	assistant *Assistant
	store     *store.Store
	notifier  *notify.Notifier
}

func newFixture(t *testing.T, client inference.Client) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Memory.DatabasePath = filepath.Join(t.TempDir(), "memory.db")

	st, err := store.Open(cfg.Memory.DatabasePath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := agent.NewRegistry()
	agent.RegisterBuiltins(registry, agent.BuiltinDeps{
		Store:           st,
		Client:          client,
		GenerateTimeout: 5 * time.Second,
	})
	loader, err := agent.NewLoader(registry, agent.NewSandbox(nil, st), "", 4, 0)
	require.NoError(t, err)

	notifier := notify.New(8)
	a := New(st,
		search.New(client, st, cfg.Search),
		router.New(client, cfg.Router),
		orchestrator.New(loader, st, cfg.Orchestrator),
		notifier, cfg)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return &fixture{assistant: a, store: st, notifier: notifier}
}

func TestHandle_StorageStatementWritesThrough(t *testing.T) {
	f := newFixture(t, &pipelineClient{})

	resp := f.assistant.Handle(context.Background(), Request{
		Text:    "I have a dentist appointment tomorrow at 3pm",
		Options: types.DefaultRequestOptions(),
	})

	assert.Equal(t, SourceStore, resp.Source)
	assert.False(t, resp.Async)
	assert.NotEmpty(t, resp.SessionID)

	records, err := f.store.SearchText(context.Background(), "dentist", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.IntentMemoryStore, records[0].PrimaryIntent)
	assert.Equal(t, resp.SessionID, records[0].SessionID)
}

func TestHandle_RecallAnswersSynchronously(t *testing.T) {
	client := &pipelineClient{answer: "Your dentist appointment is tomorrow at 3pm."}
	f := newFixture(t, client)
	ctx := context.Background()

	require.NoError(t, f.store.Insert(ctx, &store.MemoryRecord{
		SourceText:    "dentist appointment tomorrow at 3pm",
		PrimaryIntent: types.IntentMemoryStore,
	}))

	opts := types.DefaultRequestOptions()
	opts.PreferSemanticSearch = false // exercise the routed retrieval path

	resp := f.assistant.Handle(ctx, Request{
		Text:    "what did I say about the dentist?",
		Options: opts,
	})

	assert.Equal(t, SourceDirect, resp.Source)
	assert.False(t, resp.Async)
	assert.Equal(t, "Your dentist appointment is tomorrow at 3pm.", resp.Text)
	require.NotNil(t, resp.Decision)
	assert.Equal(t, types.IntentMemoryRetrieve, resp.Decision.PrimaryIntent)
}

func TestHandle_CommandOrchestratesInBackground(t *testing.T) {
	f := newFixture(t, &pipelineClient{})
	ctx := context.Background()

	notifications, cancel := f.notifier.Subscribe()
	defer cancel()

	opts := types.DefaultRequestOptions()
	opts.PreferSemanticSearch = false

	resp := f.assistant.Handle(ctx, Request{Text: "take a screenshot", Options: opts})

	assert.True(t, resp.Async, "commands acknowledge and continue in the background")
	assert.Equal(t, SourceOrchestration, resp.Source)
	require.NotNil(t, resp.Decision)
	assert.Equal(t, types.IntentCommand, resp.Decision.PrimaryIntent)

	select {
	case note := <-notifications:
		assert.Equal(t, notify.TypeOrchestrationComplete, note.Type)
		assert.Equal(t, "Capturing your screen.", note.Response)
		assert.Equal(t, []string{"command"}, note.HandledBy)
		assert.Equal(t, types.MethodStructural, note.Method)
	case <-time.After(5 * time.Second):
		t.Fatal("no completion notification arrived")
	}
}

func TestHandle_GreetingIsSynchronous(t *testing.T) {
	f := newFixture(t, &pipelineClient{})

	opts := types.DefaultRequestOptions()
	opts.PreferSemanticSearch = false

	resp := f.assistant.Handle(context.Background(), Request{Text: "hello there", Options: opts})
	assert.False(t, resp.Async)
	assert.NotEmpty(t, resp.Text)
	require.NotNil(t, resp.Decision)
	assert.Equal(t, types.IntentGreeting, resp.Decision.PrimaryIntent)
}

func TestHandle_EmptyInput(t *testing.T) {
	f := newFixture(t, &pipelineClient{})

	resp := f.assistant.Handle(context.Background(), Request{Text: "   "})
	assert.Equal(t, "I didn't catch that.", resp.Text)
	assert.NotEmpty(t, resp.SessionID)
}

func TestHandle_SearchShortCircuit(t *testing.T) {
	// The search stage answers, so routing and orchestration never run.
	client := &searchHitClient{}
	f := newFixture(t, client)

	conv := []string{"the wifi password is swordfish"}
	sessionID := ""
	for _, text := range conv {
		r := f.assistant.Handle(context.Background(), Request{
			Text:      text,
			SessionID: sessionID,
			Options:   types.DefaultRequestOptions(),
		})
		sessionID = r.SessionID
	}

	resp := f.assistant.Handle(context.Background(), Request{
		Text:      "what's the wifi password?",
		SessionID: sessionID,
		Options:   types.DefaultRequestOptions(),
	})

	assert.Equal(t, SourceSearch, resp.Source)
	assert.Equal(t, "The password is swordfish.", resp.Text)
	assert.False(t, resp.Async)
	assert.Zero(t, client.classifierCalls, "search hits bypass routing")
}

func TestHandle_OrchestrationDisabledByOptions(t *testing.T) {
	f := newFixture(t, &pipelineClient{})

	opts := types.DefaultRequestOptions()
	opts.PreferSemanticSearch = false
	opts.UseAgentOrchestration = false

	resp := f.assistant.Handle(context.Background(), Request{Text: "take a screenshot", Options: opts})
	assert.False(t, resp.Async, "orchestration option off forces the inline path")
	assert.Equal(t, SourceDirect, resp.Source)
	assert.Equal(t, "Capturing your screen.", resp.Text)
}

func TestHandle_SessionContinuity(t *testing.T) {
	f := newFixture(t, &pipelineClient{})
	ctx := context.Background()

	first := f.assistant.Handle(ctx, Request{Text: "hello", Options: types.RequestOptions{}})
	second := f.assistant.Handle(ctx, Request{
		Text:      "hello again",
		SessionID: first.SessionID,
		Options:   types.RequestOptions{},
	})

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 1, f.assistant.Sessions())
}

// searchHitClient answers stage prompts and counts classifier calls.
type searchHitClient struct {
	classifierCalls int
}

func (c *searchHitClient) Generate(ctx context.Context, prompt string, opts inference.Options) (string, error) {
	switch {
	case strings.Contains(prompt, "You classify one user utterance"):
		c.classifierCalls++
		return `{"intent":"question","confidence":0.5,"reasoning":"fake"}`, nil
	case strings.Contains(prompt, "NO_ANSWER"):
		return "The password is swordfish.", nil
	default:
		return "generated", nil
	}
}

func TestHandle_ClassificationPayloadSurfacedAndPersisted(t *testing.T) {
	f := newFixture(t, &pipelineClient{})
	ctx := context.Background()

	opts := types.DefaultRequestOptions()
	opts.PreferSemanticSearch = false

	resp := f.assistant.Handle(ctx, Request{Text: "take a screenshot", Options: opts})

	require.NotNil(t, resp.Payload, "fully routed requests carry the classification payload")
	assert.Equal(t, types.IntentCommand, resp.Payload.PrimaryIntent)
	assert.True(t, resp.Payload.CaptureScreen)
	assert.Equal(t, "take a screenshot", resp.Payload.SourceText)
	assert.Equal(t, resp.SessionID, resp.Payload.ContextMetadata["session_id"])

	// Persisted regardless of how execution goes.
	recs, err := f.store.ClassificationsBySession(ctx, resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.IntentCommand, recs[0].Payload.PrimaryIntent)
	assert.Equal(t, "take a screenshot", recs[0].Payload.SourceText)
}

func TestHandle_ClassificationDisabledUsesFallbackPayload(t *testing.T) {
	f := newFixture(t, &pipelineClient{})
	ctx := context.Background()

	opts := types.RequestOptions{UseAgentOrchestration: false}
	resp := f.assistant.Handle(ctx, Request{Text: "how do magnets work?", Options: opts})

	require.NotNil(t, resp.Payload)
	assert.Equal(t, types.IntentQuestion, resp.Payload.PrimaryIntent)
	assert.Equal(t, "fallback", resp.Payload.ContextMetadata["classification"])

	recs, err := f.store.ClassificationsBySession(ctx, resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.IntentQuestion, recs[0].Payload.PrimaryIntent)
}
