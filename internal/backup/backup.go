// Package backup implements JSON export/import of every memory across the
// project and local indexes, write-temp-then-rename atomicity, integrity
// verification, and per-workspace snapshot rollback on import failure.
// Backups use timestamped naming and are written to a temp file, verified,
// then renamed into place. Older backup files are never pruned, and no
// second backup copy is written.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anortham/codesearch-engine/internal/circuit"
	"github.com/anortham/codesearch-engine/internal/engineerr"
	"github.com/anortham/codesearch-engine/internal/memorystore"
)

// FileVersion is the current BackupFile format version.
const FileVersion = 1

// File is the on-disk backup JSON document. Invariant: TotalMemories ==
// len(Memories), and every memory has a non-empty ID and Type.
type File struct {
	Version       int                 `json:"version"`
	BackupTime    time.Time           `json:"backup_time"`
	TotalMemories int                 `json:"total_memories"`
	Memories      []*memorystore.Memory `json:"memories"`
}

// ExportResult is the output of Export.
type ExportResult struct {
	Success bool
	Count   int
	Path    string
	Time    time.Time
}

// ImportResult is the output of Import.
type ImportResult struct {
	Success bool
	Count   int
	Time    time.Time
}

// ImportOptions selects the restore set.
type ImportOptions struct {
	// Path to restore from. Empty means "the most recent backup file".
	Path string
	// Types restricts the restore set to these memory types. Empty means
	// every type in the file.
	Types []string
	// IncludeLocal allows restoring memories whose is_shared is false.
	// When false, only shared (project) memories are restored.
	IncludeLocal bool
}

// Service implements JSON backup/restore over a memorystore.Store.
type Service struct {
	memstore   *memorystore.Store
	backupsDir string
	breaker    *circuit.Breaker
}

// New creates a Service. backupsDir is typically
// pathresolve.Resolver.BackupsDir().
func New(memstore *memorystore.Store, backupsDir string) *Service {
	return &Service{
		memstore:   memstore,
		backupsDir: backupsDir,
		breaker:    circuit.New("backup.file_io", circuit.Options{}),
	}
}

// Export enumerates every memory in the project index, and in the local
// index when includeLocal is true, and writes them to a timestamped JSON
// file under the service's backups directory.
func (s *Service) Export(ctx context.Context, includeLocal bool) (ExportResult, error) {
	now := time.Now().UTC()

	memories, err := s.memstore.AllMemories(ctx, includeLocal)
	if err != nil {
		return ExportResult{}, err
	}

	file := File{
		Version:       FileVersion,
		BackupTime:    now,
		TotalMemories: len(memories),
		Memories:      memories,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return ExportResult{}, engineerr.New(engineerr.CodeInternal, "marshal backup file", err)
	}

	if err := os.MkdirAll(s.backupsDir, 0o755); err != nil {
		return ExportResult{}, engineerr.New(engineerr.CodeTransientIO, "create backups directory", err)
	}

	finalName := fmt.Sprintf("memories_%s.json", now.Format("20060102_150405"))
	finalPath := filepath.Join(s.backupsDir, finalName)
	tmpPath := finalPath + ".tmp"

	err = s.breaker.Execute(func() error {
		if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
			return engineerr.New(engineerr.CodeTransientIO, "write backup temp file", err)
		}
		if err := verifyIntegrity(tmpPath, len(memories)); err != nil {
			_ = os.Remove(tmpPath)
			return err
		}
		return nil
	})
	if err != nil {
		return ExportResult{}, err
	}

	err = s.breaker.Execute(func() error {
		if err := os.Rename(tmpPath, finalPath); err != nil {
			return engineerr.New(engineerr.CodeTransientIO, "rename backup file", err)
		}
		return nil
	})
	if err != nil {
		return ExportResult{}, err
	}

	return ExportResult{Success: true, Count: len(memories), Path: finalPath, Time: now}, nil
}

// Import restores memories from a backup file, snapshotting every memory
// it is about to overwrite per destination so a failure partway through
// can be rolled back in full.
func (s *Service) Import(ctx context.Context, opts ImportOptions) (ImportResult, error) {
	path := opts.Path
	if path == "" {
		var err error
		path, err = MostRecent(s.backupsDir)
		if err != nil {
			return ImportResult{}, err
		}
		if path == "" {
			return ImportResult{}, engineerr.New(engineerr.CodeFileNotFound, "no backup file found", nil)
		}
	}

	if err := verifyIntegrity(path, -1); err != nil {
		return ImportResult{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{}, engineerr.New(engineerr.CodeTransientIO, "read backup file", err)
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return ImportResult{}, engineerr.Corruption("backup file does not parse", err)
	}

	typeFilter := make(map[string]bool, len(opts.Types))
	for _, t := range opts.Types {
		typeFilter[t] = true
	}

	var restoreSet []*memorystore.Memory
	for _, m := range file.Memories {
		if len(typeFilter) > 0 && !typeFilter[m.Type] {
			continue
		}
		if m.IsShared || opts.IncludeLocal {
			restoreSet = append(restoreSet, m)
		}
	}

	type snapshot struct {
		memory *memorystore.Memory // nil if the id did not previously exist
		id     string
	}
	snapshots := make([]snapshot, 0, len(restoreSet))
	restored := make([]string, 0, len(restoreSet))

	rollback := func() {
		for _, id := range restored {
			_ = s.memstore.Delete(ctx, id)
		}
		for _, snap := range snapshots {
			if snap.memory != nil {
				_, _ = s.memstore.Store(ctx, snap.memory)
			}
		}
	}

	now := time.Now().UTC()
	for _, m := range restoreSet {
		existing, found, err := s.memstore.GetByID(ctx, m.ID)
		if err != nil {
			rollback()
			return ImportResult{}, err
		}
		if found {
			snapshots = append(snapshots, snapshot{memory: existing, id: m.ID})
			if err := s.memstore.Delete(ctx, m.ID); err != nil {
				rollback()
				return ImportResult{}, err
			}
		} else {
			snapshots = append(snapshots, snapshot{memory: nil, id: m.ID})
		}

		restoredMemory := *m
		if _, err := s.memstore.Store(ctx, &restoredMemory); err != nil {
			rollback()
			return ImportResult{}, err
		}
		restored = append(restored, m.ID)
	}

	return ImportResult{Success: true, Count: len(restored), Time: now}, nil
}

// verifyIntegrity re-reads path and checks total_memories == len(memories)
// and every item has a non-empty id and type. expectedCount < 0 skips the
// cross-check against a caller-known count.
func verifyIntegrity(path string, expectedCount int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return engineerr.New(engineerr.CodeTransientIO, "re-read backup file", err)
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return engineerr.Corruption("backup file does not parse", err)
	}
	if file.TotalMemories != len(file.Memories) {
		return engineerr.Corruption("backup file total_memories mismatch", nil).
			WithDetail("declared", fmt.Sprintf("%d", file.TotalMemories)).
			WithDetail("actual", fmt.Sprintf("%d", len(file.Memories)))
	}
	if expectedCount >= 0 && file.TotalMemories != expectedCount {
		return engineerr.Corruption("backup file total_memories does not match the export count", nil)
	}
	for _, m := range file.Memories {
		if m.ID == "" || m.Type == "" {
			return engineerr.Corruption("backup file has a memory with empty id or type", nil)
		}
	}
	return nil
}

// MostRecent returns the newest backup file path under dir, or "" if none
// exist.
func MostRecent(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var candidates []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "memories_") && strings.HasSuffix(e.Name(), ".json") {
			candidates = append(candidates, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(candidates)
	if len(candidates) == 0 {
		return "", nil
	}
	return candidates[len(candidates)-1], nil
}

// ListBackups returns every backup file path under dir, newest first.
func ListBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var candidates []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "memories_") && strings.HasSuffix(e.Name(), ".json") {
			candidates = append(candidates, filepath.Join(dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))
	return candidates, nil
}
