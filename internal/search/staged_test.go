package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskd/internal/config"
	"deskd/internal/inference"
	"deskd/internal/store"
	"deskd/internal/types"
)

// scriptedClient replays one reply per Generate call.
type scriptedClient struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (s *scriptedClient) Generate(ctx context.Context, prompt string, opts inference.Options) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	reply := ""
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return reply, err
}

func newTestSearch(t *testing.T, client inference.Client) (*StagedSearch, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(client, st, config.Default().Search), st
}

func convWith(turns ...types.ConversationTurn) *types.ConversationContext {
	conv := types.NewConversationContext(8)
	for _, turn := range turns {
		conv.Append(turn)
	}
	return conv
}

func TestIsStorageStatement(t *testing.T) {
	tests := []struct {
		utterance string
		want      bool
	}{
		{"remember my wifi password is swordfish", true},
		{"I have a dentist appointment tomorrow at 3pm", true},
		{"note that the garage code changed", true},
		{"don't forget the milk", true},
		{"what did I say about the dentist?", false},
		{"do I have a dentist appointment?", false},
		{"hello there", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStorageStatement(tt.utterance))
		})
	}
}

func TestAnswer_StorageStatementSkipsAllStages(t *testing.T) {
	client := &scriptedClient{}
	s, _ := newTestSearch(t, client)

	result := s.Answer(context.Background(), "remember the wifi password is swordfish", nil, "")
	assert.True(t, result.Skipped)
	assert.False(t, result.Success)
	assert.Zero(t, client.calls, "no stage may run for a storage statement")
}

func TestAnswer_ExchangeStageShortCircuits(t *testing.T) {
	client := &scriptedClient{replies: []string{"The password is swordfish."}}
	s, _ := newTestSearch(t, client)

	conv := convWith(
		types.ConversationTurn{Role: types.RoleUser, Text: "the wifi password is swordfish"},
		types.ConversationTurn{Role: types.RoleAssistant, Text: "Got it."},
	)

	result := s.Answer(context.Background(), "what's the wifi password?", conv, "s1")
	require.True(t, result.Success)
	assert.Equal(t, StageExchange, result.Stage)
	assert.Equal(t, "The password is swordfish.", result.Response)
	assert.Equal(t, 1, client.calls, "later stages must not run after a hit")
}

func TestAnswer_EscalatesPastNoAnswer(t *testing.T) {
	client := &scriptedClient{replies: []string{"NO_ANSWER", "It's at 3pm tomorrow."}}
	s, st := newTestSearch(t, client)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, &store.MemoryRecord{
		SessionID:  "s1",
		SourceText: "dentist appointment tomorrow at 3pm",
	}))
	conv := convWith(types.ConversationTurn{Role: types.RoleUser, Text: "nice weather today"})

	result := s.Answer(ctx, "when is the dentist visit?", conv, "s1")
	require.True(t, result.Success)
	assert.Equal(t, StageSession, result.Stage)
	assert.Equal(t, 2, client.calls)
}

func TestAnswer_AllStagesFail(t *testing.T) {
	t.Run("empty memory yields no stages", func(t *testing.T) {
		client := &scriptedClient{}
		s, _ := newTestSearch(t, client)

		result := s.Answer(context.Background(), "what's my favorite color?", nil, "")
		assert.False(t, result.Success)
		assert.False(t, result.Skipped)
		assert.Zero(t, client.calls, "stages without snippets are not attempted")
	})

	t.Run("stage errors are swallowed", func(t *testing.T) {
		client := &scriptedClient{
			replies: []string{"", ""},
			errs:    []error{errors.New("timeout"), errors.New("timeout")},
		}
		s, st := newTestSearch(t, client)
		ctx := context.Background()
		require.NoError(t, st.Insert(ctx, &store.MemoryRecord{SessionID: "s1", SourceText: "favorite color is green"}))

		result := s.Answer(ctx, "what's my favorite color?", nil, "s1")
		assert.False(t, result.Success, "stage failure must not surface as an error")
	})
}

func TestBuildStagePrompt(t *testing.T) {
	prompt := buildStagePrompt("what's the code?", []string{"garage code is 4711"})
	assert.Contains(t, prompt, "NO_ANSWER")
	assert.Contains(t, prompt, "garage code is 4711")
	assert.Contains(t, prompt, "what's the code?")
}
