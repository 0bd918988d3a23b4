package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskd/internal/store"
	"deskd/internal/types"
)

const echoBody = `
import "strings"

func Execute(inputJSON string) (string, error) {
	return "echo: " + strings.TrimSpace(inputJSON), nil
}
`

func TestSandbox_CompileAndExecute(t *testing.T) {
	sandbox := NewSandbox([]string{"clock"}, nil)

	compiled, err := sandbox.Compile(types.AgentDefinition{
		Name:        "echo",
		Description: "echoes its input",
		ExecuteBody: echoBody,
	})
	require.NoError(t, err)

	env, err := compiled.Execute(context.Background(), "hello", types.ChainContext{})
	require.NoError(t, err)
	assert.Equal(t, types.EnvelopeText, env.Kind)
	assert.Contains(t, env.Text, "echo:")
	assert.Contains(t, env.Text, "hello")
}

func TestSandbox_CapabilityDeniedBeforeEval(t *testing.T) {
	sandbox := NewSandbox([]string{"clock"}, nil)

	// The body is deliberately broken: the capability check must reject the
	// definition before any evaluation happens.
	_, err := sandbox.Compile(types.AgentDefinition{
		Name:         "greedy",
		Capabilities: []string{"clock", "fs_read"},
		ExecuteBody:  "this would never compile (",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapabilityDenied)
}

func TestSandbox_ForbiddenImports(t *testing.T) {
	sandbox := NewSandbox(nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"os exec", "import \"os/exec\"\n\nfunc Execute(in string) (string, error) { return \"\", nil }"},
		{"net", "import (\n\t\"net\"\n)\n\nfunc Execute(in string) (string, error) { return \"\", nil }"},
		{"unsafe", "import \"unsafe\"\n\nfunc Execute(in string) (string, error) { return \"\", nil }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sandbox.Compile(types.AgentDefinition{Name: "bad", ExecuteBody: tt.body})
			assert.ErrorIs(t, err, ErrForbiddenImport)
		})
	}
}

func TestSandbox_BadBodyContract(t *testing.T) {
	sandbox := NewSandbox(nil, nil)

	t.Run("missing Execute", func(t *testing.T) {
		_, err := sandbox.Compile(types.AgentDefinition{
			Name:        "nope",
			ExecuteBody: "func Run(in string) (string, error) { return in, nil }",
		})
		assert.Error(t, err)
	})

	t.Run("wrong Execute signature", func(t *testing.T) {
		_, err := sandbox.Compile(types.AgentDefinition{
			Name:        "nope",
			ExecuteBody: "func Execute(in string) string { return in }",
		})
		assert.ErrorIs(t, err, ErrBadBody)
	})
}

func TestSandbox_CapabilityHelpers(t *testing.T) {
	sandbox := NewSandbox([]string{"clock", "path"}, nil)

	body := `
import "deskd/caps"

func Execute(inputJSON string) (string, error) {
	return caps.PathBase("/tmp/x/report.txt") + " at " + caps.Now(), nil
}
`
	compiled, err := sandbox.Compile(types.AgentDefinition{
		Name:         "stamper",
		Capabilities: []string{"clock", "path"},
		ExecuteBody:  body,
	})
	require.NoError(t, err)

	env, err := compiled.Execute(context.Background(), "{}", types.ChainContext{})
	require.NoError(t, err)
	assert.Contains(t, env.Text, "report.txt at ")
}

func TestSandbox_StoreCapabilityHonorsContext(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Insert(context.Background(), &store.MemoryRecord{
		SourceText: "the wifi password is swordfish",
	}))

	sandbox := NewSandbox([]string{"store"}, st)
	compiled, err := sandbox.Compile(types.AgentDefinition{
		Name:         "finder",
		Capabilities: []string{"store"},
		ExecuteBody: `
import "deskd/caps"

func Execute(inputJSON string) (string, error) {
	return caps.SearchMemory("wifi", 5)
}
`,
	})
	require.NoError(t, err)

	t.Run("live context reaches the store", func(t *testing.T) {
		env, err := compiled.Execute(context.Background(), "{}", types.ChainContext{})
		require.NoError(t, err)
		assert.Contains(t, env.Normalize(), "swordfish")
	})

	t.Run("cancelled context stops the query", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		compiled.calls.set(ctx)
		defer compiled.calls.clear()

		_, err := compiled.execute(`{"input":""}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "context canceled")
	})
}

func TestDynamicAgent_BootstrapOnce(t *testing.T) {
	sandbox := NewSandbox(nil, nil)

	// The execute body is evaluated first, so it declares the shared state
	// the bootstrap body mutates.
	def := types.AgentDefinition{
		Name: "counter",
		BootstrapBody: `
func Bootstrap(configJSON string) error {
	boots++
	return nil
}
`,
		ExecuteBody: `
import "strconv"

var boots int

func Execute(inputJSON string) (string, error) {
	return strconv.Itoa(boots), nil
}
`,
	}
	compiled, err := sandbox.Compile(def)
	require.NoError(t, err)

	require.NoError(t, compiled.Bootstrap("{}"))
	require.NoError(t, compiled.Bootstrap("{}"))

	env, err := compiled.Execute(context.Background(), "{}", types.ChainContext{})
	require.NoError(t, err)
	assert.Equal(t, "1", env.Text, "bootstrap must run exactly once")
}

func TestDynamicAgent_ExecuteTimeout(t *testing.T) {
	sandbox := NewSandbox(nil, nil)

	compiled, err := sandbox.Compile(types.AgentDefinition{
		Name: "slow",
		ExecuteBody: `
import "time"

func Execute(inputJSON string) (string, error) {
	time.Sleep(2 * time.Second)
	return "done", nil
}
`,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = compiled.Execute(ctx, "{}", types.ChainContext{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnvelopeFromOutput(t *testing.T) {
	t.Run("json object becomes structured", func(t *testing.T) {
		env := envelopeFromOutput(`{"response":"hi","score":1}`)
		assert.Equal(t, types.EnvelopeStructured, env.Kind)
		assert.Equal(t, "hi", env.Data["response"])
	})

	t.Run("plain text stays text", func(t *testing.T) {
		env := envelopeFromOutput("all good")
		assert.Equal(t, types.EnvelopeText, env.Kind)
	})

	t.Run("invalid json falls back to text", func(t *testing.T) {
		env := envelopeFromOutput("{not json")
		assert.Equal(t, types.EnvelopeText, env.Kind)
	})

	t.Run("blank output is empty", func(t *testing.T) {
		assert.True(t, envelopeFromOutput("  \n").IsEmpty())
	})
}
