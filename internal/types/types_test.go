package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceIntent(t *testing.T) {
	t.Run("valid intents pass through", func(t *testing.T) {
		for _, intent := range AllIntents() {
			got, ok := CoerceIntent(string(intent))
			assert.True(t, ok)
			assert.Equal(t, intent, got)
		}
	})

	t.Run("unknown values coerce to question", func(t *testing.T) {
		for _, raw := range []string{"", "remember", "MEMORY_STORE", "chitchat", "store"} {
			got, ok := CoerceIntent(raw)
			assert.False(t, ok, "raw %q", raw)
			assert.Equal(t, IntentQuestion, got)
		}
	})
}

func TestConversationContext_Window(t *testing.T) {
	conv := NewConversationContext(3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		conv.Append(ConversationTurn{Role: RoleUser, Text: text})
	}

	turns := conv.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "c", turns[0].Text)
	assert.Equal(t, "e", turns[2].Text)

	t.Run("returned slice is a copy", func(t *testing.T) {
		turns[0].Text = "mutated"
		assert.Equal(t, "c", conv.Turns()[0].Text)
	})

	t.Run("non-positive limit uses default", func(t *testing.T) {
		conv := NewConversationContext(0)
		for i := 0; i < DefaultConversationWindow+5; i++ {
			conv.Append(ConversationTurn{Role: RoleUser, Text: "x"})
		}
		assert.Equal(t, DefaultConversationWindow, conv.Len())
	})
}

func TestChainContext_With(t *testing.T) {
	base := ChainContext{Utterance: "hi", Intent: IntentQuestion}

	one := base.With(StepResult{Agent: "a", Success: true, Result: TextEnvelope("first")})
	two := one.With(StepResult{Agent: "b", Success: true, Result: TextEnvelope("second")})

	assert.Empty(t, base.Steps, "receiver must not change")
	assert.Len(t, one.Steps, 1)
	assert.Len(t, two.Steps, 2)

	t.Run("Output finds latest successful result", func(t *testing.T) {
		three := two.With(StepResult{Agent: "a", Success: false, Error: "boom"})
		env, ok := three.Output("a")
		require.True(t, ok)
		assert.Equal(t, "first", env.Text)

		_, ok = three.Output("missing")
		assert.False(t, ok)
	})
}

func TestExecutionPlan_Validate(t *testing.T) {
	valid := ExecutionPlan{
		Steps:     []AgentInvocation{{AgentName: "question", Input: "hi"}},
		OnFailure: FailFast,
	}
	require.NoError(t, valid.Validate())

	t.Run("empty plan", func(t *testing.T) {
		assert.Error(t, ExecutionPlan{OnFailure: FailFast}.Validate())
	})

	t.Run("unknown strategy", func(t *testing.T) {
		p := valid
		p.OnFailure = "retry"
		assert.Error(t, p.Validate())
	})

	t.Run("nameless step", func(t *testing.T) {
		p := ExecutionPlan{Steps: []AgentInvocation{{Input: "hi"}}, OnFailure: ContinueOnError}
		assert.Error(t, p.Validate())
	})
}

func TestResponseEnvelope_Normalize(t *testing.T) {
	tests := []struct {
		name string
		env  ResponseEnvelope
		want string
	}{
		{"empty", EmptyEnvelope(), ""},
		{"plain text", TextEnvelope("hello"), "hello"},
		{"one quote layer stripped", TextEnvelope(`"hello"`), "hello"},
		{"only one layer stripped", TextEnvelope(`""hello""`), `"hello"`},
		{"structured response string", StructuredEnvelope(map[string]any{"response": "done"}), "done"},
		{"nested response unwrapped once", StructuredEnvelope(map[string]any{
			"response": map[string]any{"response": "inner"},
		}), "inner"},
		{"no response field renders json", StructuredEnvelope(map[string]any{"action": "x"}), `{"action":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.env.Normalize())
		})
	}
}

func TestResponseEnvelope_IsEmpty(t *testing.T) {
	assert.True(t, EmptyEnvelope().IsEmpty())
	assert.True(t, ResponseEnvelope{}.IsEmpty())
	assert.False(t, TextEnvelope("x").IsEmpty())
	assert.False(t, StructuredEnvelope(map[string]any{"a": 1}).IsEmpty())
}
