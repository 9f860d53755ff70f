package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anortham/codesearch-engine/internal/pathresolve"
)

func newTestRegistry(t *testing.T) (*Registry, *pathresolve.Resolver) {
	t.Helper()
	base := filepath.Join(t.TempDir(), ".codesearch")
	resolver := pathresolve.New(base)
	require.NoError(t, resolver.EnsureLayout())
	reg := New(resolver)
	require.NoError(t, reg.Load())
	return reg, resolver
}

func TestGetOrCreatePersistsAcrossReload(t *testing.T) {
	reg, resolver := newTestRegistry(t)

	ws, err := reg.GetOrCreate("/tmp/project-a", "Project A")
	require.NoError(t, err)
	require.NotEmpty(t, ws.Hash)

	reloaded := New(resolver)
	require.NoError(t, reloaded.Load())
	got, ok, err := reloaded.GetByHash(ws.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ws.OriginalPath, got.OriginalPath)
	require.Equal(t, ws.DirectoryName, got.DirectoryName)
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)

	first, err := reg.Register("/tmp/project-b", "Project B")
	require.NoError(t, err)
	second, err := reg.Register("/tmp/project-b", "Project B")
	require.NoError(t, err)

	require.Equal(t, first.Hash, second.Hash)
	all, err := reg.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestUnregisterCreatesOrphan(t *testing.T) {
	reg, _ := newTestRegistry(t)

	ws, err := reg.GetOrCreate("/tmp/project-c", "Project C")
	require.NoError(t, err)

	require.NoError(t, reg.Unregister(ws.Hash))

	_, ok, err := reg.GetByHash(ws.Hash)
	require.NoError(t, err)
	require.False(t, ok)

	orphans, err := reg.AllOrphans()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.Equal(t, ws.DirectoryName, orphans[0].DirectoryName)
	require.Equal(t, ReasonWorkspaceDeleted, orphans[0].Reason)
}

func TestOrphanPromotedOnReRegister(t *testing.T) {
	reg, _ := newTestRegistry(t)

	ws, err := reg.GetOrCreate("/tmp/project-d", "Project D")
	require.NoError(t, err)
	require.NoError(t, reg.UpdateStatistics(ws.Hash, 10, 2048))
	require.NoError(t, reg.Unregister(ws.Hash))

	recreated, err := reg.GetOrCreate("/tmp/project-d", "Project D")
	require.NoError(t, err)
	require.Equal(t, ws.Hash, recreated.Hash)
	require.Equal(t, int64(2048), recreated.IndexSizeBytes)

	orphans, err := reg.AllOrphans()
	require.NoError(t, err)
	require.Empty(t, orphans)
}

func TestLoadFallsBackToBackupWhenPrimaryCorrupt(t *testing.T) {
	reg, resolver := newTestRegistry(t)

	_, err := reg.GetOrCreate("/tmp/project-e", "Project E")
	require.NoError(t, err)

	// Corrupt the primary file directly; the backup copy should still be
	// intact from the atomic write-temp-rename-backup protocol.
	require.NoError(t, os.WriteFile(resolver.RegistryPath(), []byte("{not json"), 0o644))

	reloaded := New(resolver)
	err = reloaded.Load()
	require.NoError(t, err)

	all, err := reloaded.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestLoadStartsEmptyWhenNoFilesExist(t *testing.T) {
	base := filepath.Join(t.TempDir(), ".codesearch")
	resolver := pathresolve.New(base)
	require.NoError(t, resolver.EnsureLayout())

	reg := New(resolver)
	require.NoError(t, reg.Load())

	all, err := reg.All()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestOrphansReadyForCleanupRespectsGracePeriod(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.MarkOrphaned("stale_abc123", ReasonNoMetadata, 512))

	ready, err := reg.OrphansReadyForCleanup()
	require.NoError(t, err)
	require.Empty(t, ready, "freshly discovered orphan should still be inside its grace period")

	// Force the orphan's schedule into the past to simulate grace period
	// elapsing, then confirm it surfaces and can be removed cleanly.
	reg.mu.Lock()
	reg.cat.OrphanedIndexes["stale_abc123"].ScheduledForDeletion = time.Now().Add(-time.Minute)
	err = reg.saveLocked()
	reg.mu.Unlock()
	require.NoError(t, err)

	ready, err = reg.OrphansReadyForCleanup()
	require.NoError(t, err)
	require.Len(t, ready, 1)

	require.NoError(t, reg.RemoveOrphaned("stale_abc123"))
	orphans, err := reg.AllOrphans()
	require.NoError(t, err)
	require.Empty(t, orphans)
}

func TestScanDiscoveredOrphanIsPromotedOnReRegister(t *testing.T) {
	reg, resolver := newTestRegistry(t)

	canonicalPath := "/tmp/project-scanned"
	hash := pathresolve.WorkspaceHash(canonicalPath)
	indexDir := resolver.IndexDir(hash)
	require.NoError(t, os.MkdirAll(indexDir, 0o755))

	require.NoError(t, reg.ScanForOrphans())
	orphans, err := reg.AllOrphans()
	require.NoError(t, err)
	require.Len(t, orphans, 1, "ScanForOrphans should key the orphan by the raw hash, matching IndexDir's on-disk layout")

	ws, err := reg.GetOrCreate(canonicalPath, "Scanned Project")
	require.NoError(t, err)
	require.Equal(t, hash, ws.Hash)

	orphans, err = reg.AllOrphans()
	require.NoError(t, err)
	require.Empty(t, orphans, "GetOrCreate must promote an orphan discovered by ScanForOrphans rather than leaving it stranded")
}

func TestScanForOrphansDiscoversUntrackedDirectories(t *testing.T) {
	reg, resolver := newTestRegistry(t)

	stray := filepath.Join(resolver.BaseDir(), "indexes", "orphan_hash_1")
	require.NoError(t, os.MkdirAll(stray, 0o755))

	require.NoError(t, reg.ScanForOrphans())

	orphans, err := reg.AllOrphans()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.Equal(t, "orphan_hash_1", orphans[0].DirectoryName)
	require.Equal(t, ReasonNoMetadata, orphans[0].Reason)
}

func TestUpdateStatusAndLastAccessed(t *testing.T) {
	reg, _ := newTestRegistry(t)

	ws, err := reg.GetOrCreate("/tmp/project-f", "Project F")
	require.NoError(t, err)

	require.NoError(t, reg.UpdateStatus(ws.Hash, StatusMissing))
	got, ok, err := reg.GetByHash(ws.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusMissing, got.Status)
}

func TestMutateUnknownHashReturnsWorkspaceMissing(t *testing.T) {
	reg, _ := newTestRegistry(t)
	err := reg.UpdateStatus("does-not-exist", StatusArchived)
	require.Error(t, err)
}
