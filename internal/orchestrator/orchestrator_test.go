package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskd/internal/agent"
	"deskd/internal/config"
	"deskd/internal/store"
	"deskd/internal/types"
)

// fakeAgent is a scriptable registry entry.
type fakeAgent struct {
	name  string
	reply types.ResponseEnvelope
	err   error
	calls int
	seen  []types.ChainContext
}

func (a *fakeAgent) Name() string     { return a.name }
func (a *fakeAgent) Describe() string { return "fake" }
func (a *fakeAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	a.calls++
	a.seen = append(a.seen, chain)
	return a.reply, a.err
}

type fixture struct {
	orch     *Orchestrator
	registry *agent.Registry
	store    *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := agent.NewRegistry()
	loader, err := agent.NewLoader(registry, agent.NewSandbox(nil, st), "", 4, 0)
	require.NoError(t, err)

	return &fixture{
		orch:     New(loader, st, config.Default().Orchestrator),
		registry: registry,
		store:    st,
	}
}

func confident(intent types.Intent) types.RoutingDecision {
	return types.RoutingDecision{PrimaryIntent: intent, Confidence: 0.95}
}

func TestAsk_DirectPlan(t *testing.T) {
	f := newFixture(t)
	q := &fakeAgent{name: "question", reply: types.TextEnvelope("42")}
	f.registry.MustRegister(q)

	result := f.orch.Ask(context.Background(), "what is the answer?", confident(types.IntentQuestion))

	require.True(t, result.Success)
	assert.Equal(t, "42", result.Result.Normalize())
	require.Len(t, result.Plan.Steps, 1)
	assert.Equal(t, "question", result.Plan.Steps[0].AgentName)
	assert.Equal(t, []string{"question"}, result.Metadata.AgentsUsed)
	assert.Equal(t, 1, q.calls)

	t.Run("run is persisted", func(t *testing.T) {
		recent, err := f.store.RecentInteractions(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.True(t, recent[0].Success)
		assert.Equal(t, types.IntentQuestion, recent[0].Intent)
	})
}

func TestAsk_MemoryWritesFailFast(t *testing.T) {
	f := newFixture(t)
	f.registry.MustRegister(&fakeAgent{name: "memory_store", err: errors.New("disk full")})

	result := f.orch.Ask(context.Background(), "remember the code is 4711", confident(types.IntentMemoryStore))

	assert.False(t, result.Success)
	assert.Equal(t, types.FailFast, result.Plan.OnFailure)
	require.Len(t, result.Steps, 1)
	assert.False(t, result.Steps[0].Success)
	assert.Contains(t, result.Steps[0].Error, "disk full")
	assert.NotEmpty(t, result.Result.Normalize(), "failed runs still carry a usable response")
}

func TestAsk_PlannerPlan(t *testing.T) {
	f := newFixture(t)

	planner := &fakeAgent{name: "planner", reply: types.TextEnvelope(
		`[{"agent":"memory_retrieve","input":"find the context"},{"agent":"question","input":"answer with it"}]`)}
	retrieve := &fakeAgent{name: "memory_retrieve", reply: types.TextEnvelope("found it")}
	question := &fakeAgent{name: "question", reply: types.TextEnvelope("final answer")}
	f.registry.MustRegister(planner)
	f.registry.MustRegister(retrieve)
	f.registry.MustRegister(question)

	low := types.RoutingDecision{PrimaryIntent: types.IntentQuestion, Confidence: 0.4}
	result := f.orch.Ask(context.Background(), "something ambiguous", low)

	require.True(t, result.Success)
	assert.Equal(t, 1, planner.calls)
	require.Len(t, result.Plan.Steps, 2)
	assert.Equal(t, "final answer", result.Result.Normalize())

	t.Run("later steps see earlier results", func(t *testing.T) {
		require.Len(t, question.seen, 1)
		chain := question.seen[0]
		require.Len(t, chain.Steps, 1)
		env, ok := chain.Output("memory_retrieve")
		require.True(t, ok)
		assert.Equal(t, "found it", env.Normalize())
	})
}

func TestAsk_PlannerFailureFallsBackToDirect(t *testing.T) {
	tests := []struct {
		name    string
		planner agent.Agent
	}{
		{"planner errors", &fakeAgent{name: "planner", err: errors.New("model down")}},
		{"unparseable output", &fakeAgent{name: "planner", reply: types.TextEnvelope("I would suggest retrieving first.")}},
		{"empty step array", &fakeAgent{name: "planner", reply: types.TextEnvelope("[]")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.registry.MustRegister(tt.planner)
			f.registry.MustRegister(&fakeAgent{name: "question", reply: types.TextEnvelope("direct")})

			low := types.RoutingDecision{PrimaryIntent: types.IntentQuestion, Confidence: 0.4}
			result := f.orch.Ask(context.Background(), "something ambiguous", low)

			require.True(t, result.Success)
			require.Len(t, result.Plan.Steps, 1)
			assert.Equal(t, "question", result.Plan.Steps[0].AgentName)
			assert.Equal(t, "direct", result.Result.Normalize())
		})
	}
}

func TestExecute_FailFastStopsAtFailure(t *testing.T) {
	f := newFixture(t)
	a := &fakeAgent{name: "a", reply: types.TextEnvelope("one")}
	b := &fakeAgent{name: "b", err: errors.New("boom")}
	c := &fakeAgent{name: "c", reply: types.TextEnvelope("never")}
	f.registry.MustRegister(a)
	f.registry.MustRegister(b)
	f.registry.MustRegister(c)

	plan := types.ExecutionPlan{
		Steps: []types.AgentInvocation{
			{AgentName: "a", Input: "x"}, {AgentName: "b", Input: "x"}, {AgentName: "c", Input: "x"},
		},
		OnFailure: types.FailFast,
	}
	result := f.orch.execute(context.Background(), "x", types.IntentQuestion, plan)

	assert.False(t, result.Success)
	require.Len(t, result.Steps, 2, "no result may exist past the failing step")
	assert.True(t, result.Steps[0].Success)
	assert.False(t, result.Steps[1].Success)
	assert.Zero(t, c.calls)
}

func TestExecute_ContinueOnErrorRecordsEveryStep(t *testing.T) {
	f := newFixture(t)
	f.registry.MustRegister(&fakeAgent{name: "a", err: errors.New("boom")})
	f.registry.MustRegister(&fakeAgent{name: "b", reply: types.TextEnvelope("still here")})

	plan := types.ExecutionPlan{
		Steps: []types.AgentInvocation{
			{AgentName: "a", Input: "x"}, {AgentName: "missing", Input: "x"}, {AgentName: "b", Input: "x"},
		},
		OnFailure: types.ContinueOnError,
	}
	result := f.orch.execute(context.Background(), "x", types.IntentQuestion, plan)

	require.Len(t, result.Steps, 3, "exactly one result per planned step")
	assert.False(t, result.Steps[0].Success)
	assert.False(t, result.Steps[1].Success)
	assert.True(t, result.Steps[2].Success)
	assert.True(t, result.Success)
	assert.Equal(t, "still here", result.Result.Normalize())
}

func TestParsePlannedSteps(t *testing.T) {
	t.Run("fenced output", func(t *testing.T) {
		steps, err := parsePlannedSteps("```json\n[{\"agent\":\"question\",\"input\":\"hi\"}]\n```")
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Equal(t, "question", steps[0].AgentName)
	})

	t.Run("no array", func(t *testing.T) {
		_, err := parsePlannedSteps("there is nothing to do")
		assert.Error(t, err)
	})
}
