package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskd/internal/types"
)

func TestDefinitionWatcher_EvictsOnChange(t *testing.T) {
	dir := t.TempDir()
	loader, _ := newTestLoader(t, dir)
	writeDefinition(t, dir, "rot", `func Execute(in string) (string, error) { return "v1", nil }`)

	first, err := loader.Resolve(context.Background(), "rot")
	require.NoError(t, err)

	w, err := NewDefinitionWatcher(loader, dir)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	writeDefinition(t, dir, "rot", `func Execute(in string) (string, error) { return "v2", nil }`)

	require.Eventually(t, func() bool {
		a, err := loader.Resolve(context.Background(), "rot")
		if err != nil {
			return false
		}
		if a == first {
			return false
		}
		env, err := a.Execute(context.Background(), "{}", types.ChainContext{})
		return err == nil && env.Text == "v2"
	}, 5*time.Second, 50*time.Millisecond, "changed definition must be recompiled")
}

func TestDefinitionWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	loader, _ := newTestLoader(t, dir)
	writeDefinition(t, dir, "keep", `func Execute(in string) (string, error) { return "v1", nil }`)

	first, err := loader.Resolve(context.Background(), "keep")
	require.NoError(t, err)

	w, err := NewDefinitionWatcher(loader, dir)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	time.Sleep(300 * time.Millisecond)

	again, err := loader.Resolve(context.Background(), "keep")
	require.NoError(t, err)
	assert.Same(t, first, again, "non-definition files must not evict")
}

func TestDefinitionWatcher_MissingDirIsNotFatal(t *testing.T) {
	loader, _ := newTestLoader(t, "")
	w, err := NewDefinitionWatcher(loader, filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.NoError(t, w.Start())
	w.Stop()
}
