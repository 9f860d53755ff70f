package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anortham/codesearch-engine/internal/facet"
	"github.com/anortham/codesearch-engine/internal/indexstore"
	"github.com/anortham/codesearch-engine/internal/memorystore"
	"github.com/anortham/codesearch-engine/internal/pathresolve"
	"github.com/anortham/codesearch-engine/internal/watcher"
)

func newTestEngine(t *testing.T) (*Engine, *memorystore.Store, *pathresolve.Resolver) {
	t.Helper()
	idx := indexstore.New()
	t.Cleanup(func() { _ = idx.Close() })
	dir := t.TempDir()
	ms := memorystore.New(idx, filepath.Join(dir, "project"), filepath.Join(dir, "local"), facet.New(), nil)
	resolver := pathresolve.New(filepath.Join(dir, "base"))
	return New(ms, resolver, DefaultConfig(), nil), ms, resolver
}

func TestMemoryTypeFactorKnownAndUnknown(t *testing.T) {
	require.Equal(t, 0.9, memoryTypeFactor(memorystore.TypeTechnicalDebt))
	require.Equal(t, 0.5, memoryTypeFactor("SomethingElse"))
}

func TestFileRelevanceExactMatch(t *testing.T) {
	require.Equal(t, 1.0, fileRelevanceFactor([]string{"/repo/a.go"}, "/repo/a.go"))
}

func TestFileRelevanceSameDirectory(t *testing.T) {
	require.Equal(t, 0.7, fileRelevanceFactor([]string{"/repo/a.go"}, "/repo/b.go"))
}

func TestFileRelevanceNoFiles(t *testing.T) {
	require.Equal(t, 0.1, fileRelevanceFactor(nil, "/repo/a.go"))
}

func TestAgeFactorBuckets(t *testing.T) {
	now := time.Now()
	require.Equal(t, 0.3, ageFactor(now.Add(-time.Hour)))
	require.Equal(t, 0.5, ageFactor(now.Add(-20*24*time.Hour)))
	require.Equal(t, 0.7, ageFactor(now.Add(-60*24*time.Hour)))
	require.Equal(t, 0.9, ageFactor(now.Add(-200*24*time.Hour)))
}

func TestContentKeywordsFactorClampsAtOne(t *testing.T) {
	m := &memorystore.Memory{Content: "todo fixme bug issue problem error broken class method"}
	ev := watcher.Event{Path: "/repo/widget.go", Kind: watcher.Modified}
	require.Equal(t, 1.0, contentKeywordsFactor(m, ev))
}

func TestHandleEventIgnoresPathsUnderBaseDirectory(t *testing.T) {
	e, _, resolver := newTestEngine(t)
	ev := watcher.Event{Path: filepath.Join(resolver.BaseDir(), "index.json"), Kind: watcher.Modified}
	// No memories stored; this must return without attempting a search
	// against an empty store for a base-dir path, per the self-change-loop
	// guard.
	e.HandleEvent(context.Background(), ev)
}

func TestHandleEventAutoResolvesHighConfidenceMatch(t *testing.T) {
	e, ms, _ := newTestEngine(t)
	m := &memorystore.Memory{
		Type:          memorystore.TypeBugReport,
		Content:       "fixme: crash in widget.go parser",
		IsShared:      true,
		FilesInvolved: []string{"/repo/widget.go"},
		Created:       time.Now().Add(-200 * 24 * time.Hour),
	}
	m.SetField("status", memorystore.StringField("pending"))
	ok, err := ms.Store(context.Background(), m)
	require.NoError(t, err)
	require.True(t, ok)

	e.HandleEvent(context.Background(), watcher.Event{Path: "/repo/widget.go", Kind: watcher.Deleted})

	got, found, err := ms.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "resolved", got.Status())
}

func TestRecordFeedbackStoresResolutionFeedback(t *testing.T) {
	e, ms, _ := newTestEngine(t)
	m := &memorystore.Memory{Type: memorystore.TypeBugReport, Content: "some bug", IsShared: true}
	_, err := ms.Store(context.Background(), m)
	require.NoError(t, err)

	ok, err := e.RecordFeedback(context.Background(), m.ID, true, "confirmed fixed")
	require.NoError(t, err)
	require.True(t, ok)
}
