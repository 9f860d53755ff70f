package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anortham/codesearch-engine/internal/memorystore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	base := t.TempDir()
	e, err := Open(Options{BaseDir: base})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e
}

// TestRegisterAndIndex activates a workspace with two files, confirms its
// document count becomes 2, and confirms a search for a term present in
// only one of them returns exactly that file at the right line.
func TestRegisterAndIndex(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("hello world foo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "b.md"), []byte("bar\n"), 0o644))

	e := newTestEngine(t)
	workspace, err := e.ActivateWorkspace(ws, "ws1")
	require.NoError(t, err)
	require.Equal(t, 2, workspace.DocumentCount)

	all, err := e.Registry().All()
	require.NoError(t, err)
	require.Len(t, all, 1)

	hits, err := e.SearchFiles(context.Background(), workspace.Hash, "foo", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, filepath.Join(ws, "a.txt"), hits[0].Path)
	require.Equal(t, 1, hits[0].LineNumber)
}

// TestLiveUpdate confirms editing a watched file updates the index within
// the debounce window.
func TestLiveUpdate(t *testing.T) {
	ws := t.TempDir()
	filePath := filepath.Join(ws, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("hello world foo\n"), 0o644))

	e := newTestEngine(t)
	workspace, err := e.ActivateWorkspace(ws, "ws1")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filePath, []byte("new foo\n"), 0o644))

	require.Eventually(t, func() bool {
		hits, err := e.SearchFiles(context.Background(), workspace.Hash, "hello", 10)
		return err == nil && len(hits) == 0
	}, 5*time.Second, 50*time.Millisecond)

	hits, err := e.SearchFiles(context.Background(), workspace.Hash, "foo", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

// TestStoreAndSearchMemory exercises the memory store's store/search round
// trip through the composition root, including the default
// created-descending order used when no boosting or order_by is
// requested.
func TestStoreAndSearchMemory(t *testing.T) {
	e := newTestEngine(t)

	first := &memorystore.Memory{Type: memorystore.TypeTechnicalDebt, Content: "todo fix parser"}
	ok, err := e.StoreMemory(context.Background(), first)
	require.NoError(t, err)
	require.True(t, ok)

	second := &memorystore.Memory{Type: memorystore.TypeBugReport, Content: "todo fix renderer"}
	ok, err = e.StoreMemory(context.Background(), second)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := e.SearchMemory(context.Background(), memorystore.SearchRequest{Query: "todo"})
	require.NoError(t, err)
	require.Len(t, result.Memories, 2)
	require.Equal(t, second.ID, result.Memories[0].ID)
	require.Equal(t, first.ID, result.Memories[1].ID)
}

func TestDoctorReportsNoCriticalFailuresOnFreshBaseDir(t *testing.T) {
	e := newTestEngine(t)
	report := e.Doctor(context.Background())
	require.False(t, report.HasCriticalFailures())
}
