package engine

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/anortham/codesearch-engine/internal/pathresolve"
	"github.com/anortham/codesearch-engine/internal/watcher"
)

// SeedWorkspace walks canonicalPath and indexes every file matching the
// watcher's allow/block lists in batches of up to 500 files, for a workspace's first
// activation rather than waiting for individual filesystem events to
// trickle in one at a time. It reuses the watcher's own filtering rules
// (DefaultAllowedExtensions/DefaultBlockedDirs) so a freshly seeded index
// and one built up purely from incremental events end up with identical
// contents.
func (e *Engine) SeedWorkspace(ctx context.Context, hash, canonicalPath string) error {
	var events []watcher.Event

	err := filepath.WalkDir(canonicalPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if name == pathresolve.BaseDirName || watcher.DefaultBlockedDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if !watcher.DefaultAllowedExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		events = append(events, watcher.Event{
			Workspace: hash,
			Path:      path,
			Kind:      watcher.Created,
			Timestamp: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	const chunkSize = 500
	for start := 0; start < len(events); start += chunkSize {
		end := start + chunkSize
		if end > len(events) {
			end = len(events)
		}
		e.pipeline.IndexBatch(ctx, hash, events[start:end])
	}
	return nil
}

// seedIfEmpty runs SeedWorkspace only when indexDir's workspace index has no
// documents yet, so re-activating an already-indexed workspace (e.g. after
// an LRU eviction) does not re-walk and re-commit every file.
func (e *Engine) seedIfEmpty(ctx context.Context, indexDir, hash, canonicalPath string) error {
	searcher, err := e.indexStore.Searcher(indexDir)
	if err != nil {
		return err
	}
	count, err := searcher.DocCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return e.SeedWorkspace(ctx, hash, canonicalPath)
}

// RefreshWorkspaceStatistics recomputes hash's document count and on-disk
// index size and writes them into the registry's Workspace.DocumentCount/
// IndexSizeBytes fields. Callers invoke this after seeding or indexing so
// `status`-style commands read current numbers rather than the zero
// values a freshly registered workspace starts with.
func (e *Engine) RefreshWorkspaceStatistics(hash string) error {
	indexDir := e.resolver.IndexDir(hash)
	searcher, err := e.indexStore.Searcher(indexDir)
	if err != nil {
		return err
	}
	count, err := searcher.DocCount()
	if err != nil {
		return err
	}
	return e.registry.UpdateStatistics(hash, int(count), dirSize(indexDir))
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
