package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anortham/codesearch-engine/internal/indexstore"
	"github.com/anortham/codesearch-engine/internal/watcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPipelineIndexesCreatedFile(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(filePath, []byte("package main\n\nfunc getUserByID() {}\n"), 0o644))

	store := indexstore.New()
	defer store.Close()

	indexPath := filepath.Join(t.TempDir(), "idx")
	resolve := func(workspace string) (string, error) { return indexPath, nil }

	p := New(store, resolve, Options{DebounceWindow: 20 * time.Millisecond, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan watcher.Event, 1)
	go p.Run(ctx, events)

	events <- watcher.Event{Workspace: "ws1", Path: filePath, Kind: watcher.Created, Timestamp: time.Now()}

	require.Eventually(t, func() bool {
		s, err := store.Searcher(indexPath)
		if err != nil {
			return false
		}
		n, err := s.DocCount()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
}

func TestPipelineDeletesRemovedFileFromIndex(t *testing.T) {
	dir := t.TempDir()
	keepPath := filepath.Join(dir, "keep.go")
	require.NoError(t, os.WriteFile(keepPath, []byte("package main\n"), 0o644))

	store := indexstore.New()
	defer store.Close()
	indexPath := filepath.Join(t.TempDir(), "idx")
	resolve := func(workspace string) (string, error) { return indexPath, nil }

	w, err := store.Writer(indexPath)
	require.NoError(t, err)
	require.NoError(t, w.Add(&indexstore.Document{Path: keepPath, Content: "stale"}))
	require.NoError(t, w.Commit(context.Background()))

	p := New(store, resolve, Options{DebounceWindow: 20 * time.Millisecond, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan watcher.Event, 2)
	go p.Run(ctx, events)

	events <- watcher.Event{Workspace: "ws1", Path: keepPath, Kind: watcher.Deleted, Timestamp: time.Now()}

	require.Eventually(t, func() bool {
		s, err := store.Searcher(indexPath)
		if err != nil {
			return false
		}
		n, err := s.DocCount()
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
}

func TestPipelineIsolatesPerFileErrors(t *testing.T) {
	store := indexstore.New()
	defer store.Close()
	indexPath := filepath.Join(t.TempDir(), "idx")
	resolve := func(workspace string) (string, error) { return indexPath, nil }

	p := New(store, resolve, Options{DebounceWindow: 20 * time.Millisecond, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan watcher.Event, 1)
	go p.Run(ctx, events)

	events <- watcher.Event{Workspace: "ws1", Path: filepath.Join(t.TempDir(), "missing.go"), Kind: watcher.Created, Timestamp: time.Now()}

	// Pipeline must not panic or deadlock on an unreadable file; give it a
	// moment to process the batch and confirm the index ends up empty.
	time.Sleep(100 * time.Millisecond)
	s, err := store.Searcher(indexPath)
	require.NoError(t, err)
	n, err := s.DocCount()
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}
