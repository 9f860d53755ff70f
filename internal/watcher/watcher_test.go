package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, w *Watcher, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-w.Events():
			if !ok {
				return got
			}
			got = append(got, e)
		case <-deadline:
			return got
		}
	}
}

func TestWatcherEmitsCreatedAndModified(t *testing.T) {
	dir := t.TempDir()
	w := New("ws1", dir, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	file := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(file, []byte("package a"), 0o644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte("package a // changed"), 0o644))

	events := collectEvents(t, w, 500*time.Millisecond)
	require.NotEmpty(t, events)
	for _, e := range events {
		require.Equal(t, "ws1", e.Workspace)
	}
}

func TestWatcherIgnoresBlockedDirectories(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "node_modules")
	require.NoError(t, os.MkdirAll(blocked, 0o755))

	w := New("ws1", dir, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(blocked, "pkg.go"), []byte("x"), 0o644))

	events := collectEvents(t, w, 300*time.Millisecond)
	require.Empty(t, events)
}

func TestWatcherIgnoresDisallowedExtension(t *testing.T) {
	dir := t.TempDir()
	w := New("ws1", dir, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.exe"), []byte("x"), 0o644))

	events := collectEvents(t, w, 300*time.Millisecond)
	require.Empty(t, events)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w := New("ws1", t.TempDir(), Options{})
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
