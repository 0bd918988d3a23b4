package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskd/internal/inference"
	"deskd/internal/store"
	"deskd/internal/types"
)

type stubClient struct {
	reply string
	err   error
}

func (s *stubClient) Generate(ctx context.Context, prompt string, opts inference.Options) (string, error) {
	return s.reply, s.err
}

func builtinFixture(t *testing.T, client inference.Client) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := NewRegistry()
	RegisterBuiltins(registry, BuiltinDeps{
		Store:           st,
		Client:          client,
		GenerateTimeout: 5 * time.Second,
	})
	return registry, st
}

func TestRegisterBuiltins_FullSet(t *testing.T) {
	registry, _ := builtinFixture(t, &stubClient{})
	for _, name := range []string{
		"memory_store", "memory_retrieve", "memory_update", "memory_delete",
		"greeting", "question", "command", "planner",
	} {
		assert.NotNil(t, registry.Get(name), "builtin %s missing", name)
	}
}

func TestMemoryStoreAgent(t *testing.T) {
	registry, st := builtinFixture(t, &stubClient{})
	ctx := context.Background()

	env, err := registry.Get("memory_store").Execute(ctx, "the garage code is 4711", types.ChainContext{})
	require.NoError(t, err)
	assert.Equal(t, types.EnvelopeStructured, env.Kind)
	require.NotEmpty(t, env.Data["record_id"])

	rec, err := st.Get(ctx, env.Data["record_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "the garage code is 4711", rec.SourceText)
	assert.Equal(t, types.IntentMemoryStore, rec.PrimaryIntent)
}

func TestMemoryRetrieveAgent(t *testing.T) {
	client := &stubClient{reply: "It's 4711."}
	registry, st := builtinFixture(t, client)
	ctx := context.Background()

	t.Run("nothing stored", func(t *testing.T) {
		env, err := registry.Get("memory_retrieve").Execute(ctx, "what's the garage code?", types.ChainContext{})
		require.NoError(t, err)
		assert.Contains(t, env.Text, "don't have anything")
	})

	require.NoError(t, st.Insert(ctx, &store.MemoryRecord{SourceText: "garage code is 4711"}))

	t.Run("answers from matches", func(t *testing.T) {
		env, err := registry.Get("memory_retrieve").Execute(ctx, "what's the garage code?", types.ChainContext{})
		require.NoError(t, err)
		assert.Equal(t, "It's 4711.", env.Text)
	})

	t.Run("generation failure degrades to the raw memory", func(t *testing.T) {
		client.err = errors.New("model down")
		defer func() { client.err = nil }()
		env, err := registry.Get("memory_retrieve").Execute(ctx, "what's the garage code?", types.ChainContext{})
		require.NoError(t, err)
		assert.Contains(t, env.Text, "garage code is 4711")
	})
}

func TestMemoryUpdateAgent(t *testing.T) {
	registry, st := builtinFixture(t, &stubClient{})
	ctx := context.Background()

	rec := &store.MemoryRecord{SourceText: "dentist appointment tuesday"}
	require.NoError(t, st.Insert(ctx, rec))

	env, err := registry.Get("memory_update").Execute(ctx, "dentist appointment moved to friday", types.ChainContext{})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, env.Data["record_id"])

	updated, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "dentist appointment moved to friday", updated.SourceText)

	t.Run("no match is an error", func(t *testing.T) {
		_, err := registry.Get("memory_update").Execute(ctx, "unrelated zebra facts", types.ChainContext{})
		assert.Error(t, err)
	})
}

func TestMemoryDeleteAgent(t *testing.T) {
	registry, st := builtinFixture(t, &stubClient{})
	ctx := context.Background()

	rec := &store.MemoryRecord{SourceText: "old gym membership number"}
	require.NoError(t, st.Insert(ctx, rec))

	env, err := registry.Get("memory_delete").Execute(ctx, "gym membership", types.ChainContext{})
	require.NoError(t, err)
	assert.Equal(t, "Forgotten.", env.Normalize())

	_, err = st.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	t.Run("nothing matching is not an error", func(t *testing.T) {
		env, err := registry.Get("memory_delete").Execute(ctx, "gym membership", types.ChainContext{})
		require.NoError(t, err)
		assert.Contains(t, env.Text, "nothing stored")
	})
}

func TestCommandAgent(t *testing.T) {
	registry, _ := builtinFixture(t, &stubClient{})
	ctx := context.Background()

	t.Run("screenshot request", func(t *testing.T) {
		env, err := registry.Get("command").Execute(ctx, "take a screenshot please", types.ChainContext{})
		require.NoError(t, err)
		assert.Equal(t, "capture_screen", env.Data["action"])
	})

	t.Run("anything else is unsupported", func(t *testing.T) {
		env, err := registry.Get("command").Execute(ctx, "defragment the moon", types.ChainContext{})
		require.NoError(t, err)
		assert.Equal(t, "unsupported", env.Data["action"])
	})
}

func TestQuestionAgent_UsesChainContext(t *testing.T) {
	registry, _ := builtinFixture(t, &stubClient{reply: "answer"})
	ctx := context.Background()

	chain := types.ChainContext{}.With(types.StepResult{
		Agent: "memory_retrieve", Success: true,
		Result: types.TextEnvelope("garage code is 4711"),
	})

	env, err := registry.Get("question").Execute(ctx, "so what do I punch in?", chain)
	require.NoError(t, err)
	assert.Equal(t, "answer", env.Text)
}

func TestPlannerAgent(t *testing.T) {
	reply := `[{"agent":"memory_retrieve","input":"x"}]`
	registry, _ := builtinFixture(t, &stubClient{reply: reply})

	env, err := registry.Get("planner").Execute(context.Background(), "complicated ask",
		types.ChainContext{Intent: types.IntentQuestion})
	require.NoError(t, err)
	assert.Equal(t, reply, env.Text)
}
