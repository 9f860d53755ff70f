package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/anortham/codesearch-engine/internal/engineerr"
	"github.com/anortham/codesearch-engine/internal/pathresolve"
)

// Registry is the durable catalog of registered workspaces and orphaned
// index directories. All mutations go through a single mutex and are
// persisted with a temp-write, rename, backup-copy protocol so a crash
// mid-write can never corrupt both the primary and the backup at once.
type Registry struct {
	resolver *pathresolve.Resolver

	mu  sync.Mutex
	cat *catalog

	// single-slot sliding-TTL cache of the last catalog read: a disk read
	// this cheap doesn't need a real eviction policy, but expirable.LRU
	// gives us sliding-TTL semantics without hand-rolling one.
	readCache *expirable.LRU[string, *catalog]
}

const cacheKey = "catalog"

// New creates a Registry rooted at the given resolver's base directory. It
// does not touch disk until Load is called.
func New(resolver *pathresolve.Resolver) *Registry {
	return &Registry{
		resolver:  resolver,
		readCache: expirable.NewLRU[string, *catalog](1, nil, cacheTTL),
	}
}

// Load reads the catalog from disk, falling back to the backup copy if the
// primary is missing or corrupt, and to a fresh empty catalog if both are
// unusable. The primary always loses to the backup when it is corrupt.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *Registry) loadLocked() error {
	primary := r.resolver.RegistryPath()
	cat, err := readCatalog(primary)
	if err == nil {
		r.setCatLocked(cat)
		return nil
	}

	backup := r.resolver.RegistryBackupPath()
	cat, backupErr := readCatalog(backup)
	if backupErr == nil {
		r.setCatLocked(cat)
		return nil
	}

	r.setCatLocked(newCatalog())
	return nil
}

func (r *Registry) setCatLocked(cat *catalog) {
	r.cat = cat
	r.readCache.Add(cacheKey, cat)
}

func readCatalog(path string) (*catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cat catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, engineerr.Corruption("registry catalog is not valid JSON", err)
	}
	if cat.Workspaces == nil {
		cat.Workspaces = make(map[string]*Workspace)
	}
	if cat.OrphanedIndexes == nil {
		cat.OrphanedIndexes = make(map[string]*OrphanedIndex)
	}
	return &cat, nil
}

// ensureLoaded loads the catalog lazily if it has never been read, and
// forces a reload from disk once the sliding-TTL cache entry has expired.
// Call with r.mu held.
func (r *Registry) ensureLoadedLocked() error {
	if cached, ok := r.readCache.Get(cacheKey); ok {
		r.cat = cached
		r.readCache.Add(cacheKey, cached) // re-add so the TTL slides on every hit
		return nil
	}
	return r.loadLocked()
}

// saveLocked writes the catalog atomically: write to a temp file in the
// same directory, rename over the primary, then copy the just-written
// primary over the backup. Call with r.mu held.
func (r *Registry) saveLocked() error {
	r.cat.LastUpdated = time.Now()
	r.recomputeStatisticsLocked()

	data, err := json.MarshalIndent(r.cat, "", "  ")
	if err != nil {
		return engineerr.New(engineerr.CodeInternal, "marshal registry catalog", err)
	}

	primary := r.resolver.RegistryPath()
	if err := os.MkdirAll(filepath.Dir(primary), 0o755); err != nil {
		return engineerr.New(engineerr.CodeTransientIO, "create registry directory", err)
	}

	tmp := primary + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return engineerr.New(engineerr.CodeTransientIO, "write registry temp file", err)
	}
	if err := os.Rename(tmp, primary); err != nil {
		return engineerr.New(engineerr.CodeTransientIO, "rename registry temp file", err)
	}

	backup := r.resolver.RegistryBackupPath()
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		// Backup failure is not fatal to the primary write, but callers
		// should know the redundancy guarantee briefly lapsed.
		return engineerr.New(engineerr.CodeTransientIO, "write registry backup copy", err)
	}

	r.readCache.Add(cacheKey, r.cat)
	return nil
}

func (r *Registry) recomputeStatisticsLocked() {
	var stats Statistics
	for _, w := range r.cat.Workspaces {
		stats.TotalWorkspaces++
		stats.TotalIndexSizeBytes += w.IndexSizeBytes
		stats.TotalDocuments += w.DocumentCount
	}
	stats.TotalOrphans = len(r.cat.OrphanedIndexes)
	r.cat.Statistics = stats
}

// GetOrCreate returns the registered Workspace for canonicalPath, creating
// and persisting a new entry if none exists. If an orphaned index exists
// under the same hash, it is promoted rather than re-created from scratch.
func (r *Registry) GetOrCreate(canonicalPath, displayName string) (*Workspace, error) {
	hash := pathresolve.WorkspaceHash(canonicalPath)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, err
	}

	if ws, ok := r.cat.Workspaces[hash]; ok {
		return ws, nil
	}

	now := time.Now()
	dirName := pathresolve.DirectoryName(canonicalPath, hash)
	ws := &Workspace{
		Hash:          hash,
		OriginalPath:  canonicalPath,
		DirectoryName: dirName,
		DisplayName:   displayName,
		Status:        StatusActive,
		CreatedAt:     now,
		LastAccessed:  now,
	}

	// Promote a matching orphan instead of starting from zero, carrying
	// forward whatever size/statistics the orphan scan observed. Orphans
	// are keyed by hash, not DirectoryName: the on-disk index directory
	// (see pathresolve.IndexDir) is always just the hash, with no
	// basename prefix.
	if orphan, ok := r.cat.OrphanedIndexes[hash]; ok {
		ws.IndexSizeBytes = orphan.SizeBytes
		delete(r.cat.OrphanedIndexes, hash)
	}

	r.cat.Workspaces[hash] = ws
	if err := r.saveLocked(); err != nil {
		return nil, err
	}
	return ws, nil
}

// Register is an idempotent upsert: if a workspace with this hash already
// exists it is returned unchanged (aside from LastAccessed), otherwise one
// is created exactly as GetOrCreate would.
func (r *Registry) Register(canonicalPath, displayName string) (*Workspace, error) {
	ws, err := r.GetOrCreate(canonicalPath, displayName)
	if err != nil {
		return nil, err
	}
	if err := r.UpdateLastAccessed(ws.Hash); err != nil {
		return nil, err
	}
	return ws, nil
}

// Unregister removes a workspace from the catalog. It does not delete the
// underlying index directory; callers that also want the files gone should
// route the directory through the orphan-cleanup path instead, so a
// mistaken unregister stays recoverable for the grace period.
func (r *Registry) Unregister(hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return err
	}
	ws, ok := r.cat.Workspaces[hash]
	if !ok {
		return engineerr.New(engineerr.CodeWorkspaceMissing, "workspace not registered", nil).
			WithDetail("hash", hash)
	}
	delete(r.cat.Workspaces, hash)
	r.cat.OrphanedIndexes[hash] = &OrphanedIndex{
		DirectoryName:        ws.DirectoryName,
		DiscoveredAt:         time.Now(),
		LastModified:         ws.LastAccessed,
		Reason:               ReasonWorkspaceDeleted,
		ScheduledForDeletion: time.Now().Add(OrphanGracePeriod),
		SizeBytes:            ws.IndexSizeBytes,
		AttemptedPath:        ws.OriginalPath,
	}
	return r.saveLocked()
}

// GetByHash returns the workspace registered under hash, if any.
func (r *Registry) GetByHash(hash string) (*Workspace, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, false, err
	}
	ws, ok := r.cat.Workspaces[hash]
	return ws, ok, nil
}

// GetByPath returns the workspace registered under canonicalPath's hash.
func (r *Registry) GetByPath(canonicalPath string) (*Workspace, bool, error) {
	return r.GetByHash(pathresolve.WorkspaceHash(canonicalPath))
}

// GetByDirectoryName returns the workspace whose recorded DirectoryName
// ("<basename>_<hash>") equals dirName, if any.
func (r *Registry) GetByDirectoryName(dirName string) (*Workspace, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, false, err
	}
	for _, ws := range r.cat.Workspaces {
		if ws.DirectoryName == dirName {
			return ws, true, nil
		}
	}
	return nil, false, nil
}

// All returns every registered workspace, in no particular order.
func (r *Registry) All() ([]*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]*Workspace, 0, len(r.cat.Workspaces))
	for _, ws := range r.cat.Workspaces {
		out = append(out, ws)
	}
	return out, nil
}

// IsRegistered reports whether canonicalPath's hash has an entry.
func (r *Registry) IsRegistered(canonicalPath string) (bool, error) {
	_, ok, err := r.GetByPath(canonicalPath)
	return ok, err
}

// UpdateStatus sets a workspace's lifecycle status.
func (r *Registry) UpdateStatus(hash string, status Status) error {
	return r.mutate(hash, func(ws *Workspace) { ws.Status = status })
}

// UpdateLastAccessed bumps a workspace's LastAccessed to now.
func (r *Registry) UpdateLastAccessed(hash string) error {
	return r.mutate(hash, func(ws *Workspace) { ws.LastAccessed = time.Now() })
}

// UpdateStatistics sets a workspace's document count and index size.
func (r *Registry) UpdateStatistics(hash string, documentCount int, indexSizeBytes int64) error {
	return r.mutate(hash, func(ws *Workspace) {
		ws.DocumentCount = documentCount
		ws.IndexSizeBytes = indexSizeBytes
	})
}

func (r *Registry) mutate(hash string, fn func(*Workspace)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return err
	}
	ws, ok := r.cat.Workspaces[hash]
	if !ok {
		return engineerr.New(engineerr.CodeWorkspaceMissing, "workspace not registered", nil).
			WithDetail("hash", hash)
	}
	fn(ws)
	return r.saveLocked()
}

// MarkOrphaned records an on-disk index directory with no registry entry,
// scheduling it for cleanup after the grace period.
func (r *Registry) MarkOrphaned(dirName string, reason OrphanReason, sizeBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return err
	}
	now := time.Now()
	if existing, ok := r.cat.OrphanedIndexes[dirName]; ok {
		existing.LastModified = now
		existing.SizeBytes = sizeBytes
		return r.saveLocked()
	}
	r.cat.OrphanedIndexes[dirName] = &OrphanedIndex{
		DirectoryName:        dirName,
		DiscoveredAt:         now,
		LastModified:         now,
		Reason:               reason,
		ScheduledForDeletion: now.Add(OrphanGracePeriod),
		SizeBytes:            sizeBytes,
	}
	return r.saveLocked()
}

// RemoveOrphaned deletes an orphan entry from the catalog without touching
// the underlying directory; callers remove the directory themselves once
// this call succeeds, so a failed rmdir never leaves the catalog out of
// sync with disk.
func (r *Registry) RemoveOrphaned(dirName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return err
	}
	delete(r.cat.OrphanedIndexes, dirName)
	return r.saveLocked()
}

// OrphansReadyForCleanup returns orphans whose grace period has elapsed.
func (r *Registry) OrphansReadyForCleanup() ([]*OrphanedIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	now := time.Now()
	var ready []*OrphanedIndex
	for _, o := range r.cat.OrphanedIndexes {
		if !o.ScheduledForDeletion.After(now) {
			ready = append(ready, o)
		}
	}
	return ready, nil
}

// AllOrphans returns every orphaned index entry.
func (r *Registry) AllOrphans() ([]*OrphanedIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]*OrphanedIndex, 0, len(r.cat.OrphanedIndexes))
	for _, o := range r.cat.OrphanedIndexes {
		out = append(out, o)
	}
	return out, nil
}

// Stats returns the catalog's cached summary statistics.
func (r *Registry) Stats() (Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return Statistics{}, err
	}
	r.recomputeStatisticsLocked()
	return r.cat.Statistics, nil
}

// ScanForOrphans walks the engine's indexes/ directory and marks any index
// directory lacking a registry entry as orphaned. Directories already
// tracked, either as an active workspace or an existing orphan, are left
// untouched.
func (r *Registry) ScanForOrphans() error {
	indexesDir := filepath.Join(r.resolver.BaseDir(), "indexes")
	entries, err := os.ReadDir(indexesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return engineerr.New(engineerr.CodeTransientIO, "scan indexes directory", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return err
	}

	known := make(map[string]bool, len(r.cat.Workspaces))
	for hash := range r.cat.Workspaces {
		known[hash] = true
	}

	dirty := false
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		hash := entry.Name()
		if known[hash] {
			continue
		}
		if _, ok := r.cat.OrphanedIndexes[hash]; ok {
			continue
		}
		info, err := entry.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		now := time.Now()
		r.cat.OrphanedIndexes[hash] = &OrphanedIndex{
			DirectoryName:        hash,
			DiscoveredAt:         now,
			LastModified:         now,
			Reason:               ReasonNoMetadata,
			ScheduledForDeletion: now.Add(OrphanGracePeriod),
			SizeBytes:            size,
		}
		dirty = true
	}

	if !dirty {
		return nil
	}
	return r.saveLocked()
}
