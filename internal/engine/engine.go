// Package engine is the composition root: it wires pathresolve, registry,
// indexstore, watcher, pipeline, memorystore, facet, queryexpand,
// lifecycle, backup, circuit, and vectorindex/semantic into the single
// object a CLI or daemon process drives, and owns startup/shutdown
// ordering, bundling the search engine, metadata store, embedder, config
// and logger behind one constructor with a graceful-shutdown sequence.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/anortham/codesearch-engine/internal/backup"
	"github.com/anortham/codesearch-engine/internal/engineconfig"
	"github.com/anortham/codesearch-engine/internal/enginelog"
	"github.com/anortham/codesearch-engine/internal/facet"
	"github.com/anortham/codesearch-engine/internal/indexstore"
	"github.com/anortham/codesearch-engine/internal/lifecycle"
	"github.com/anortham/codesearch-engine/internal/memorystore"
	"github.com/anortham/codesearch-engine/internal/pathresolve"
	"github.com/anortham/codesearch-engine/internal/pipeline"
	"github.com/anortham/codesearch-engine/internal/registry"
	"github.com/anortham/codesearch-engine/internal/semantic"
	"github.com/anortham/codesearch-engine/internal/tasksupervisor"
	"github.com/anortham/codesearch-engine/internal/vectorindex"
	"github.com/anortham/codesearch-engine/internal/watcher"
)

// MaxActiveWorkspaces is the default cap on concurrently watched
// workspaces; the oldest (by last access) is evicted once a new one would
// exceed it.
const MaxActiveWorkspaces = 5

// ChangeDrainDeadline bounds how long Shutdown waits for in-flight
// pipeline batches to commit before moving on, draining the change
// channel up to this deadline.
const ChangeDrainDeadline = 5 * time.Second

// Options configures Open. BaseDir defaults to pathresolve.DefaultBaseDir
// when empty. Embedder is optional; when nil, memory writes are indexed
// for keyword search only and semantic search/FindSimilar is unavailable.
type Options struct {
	BaseDir  string
	Embedder semantic.EmbeddingService
}

// Engine bundles every component into the one object cmd/codesearchd
// drives.
type Engine struct {
	resolver   *pathresolve.Resolver
	config     *engineconfig.Config
	logger     *slog.Logger
	logCleanup func()

	registry   *registry.Registry
	indexStore *indexstore.Store
	facets     *facet.Service
	memstore   *memorystore.Store
	lifecycle  *lifecycle.Engine
	backup     *backup.Service
	supervisor *tasksupervisor.Supervisor
	vectorIdx  *vectorindex.Index

	pipeline        *pipeline.Pipeline
	pipelineEvents  chan watcher.Event
	lifecycleEvents chan watcher.Event

	mu       sync.Mutex
	watchers map[string]*workspaceWatch
	active   *lru.Cache[string, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
}

type workspaceWatch struct {
	hash string
	w    *watcher.Watcher
}

// Open builds and starts every component in wiring order: resolve paths,
// load config, set up logging, load the registry, open the shared memory
// indexes, start the indexing pipeline shared by every workspace, the
// lifecycle engine and the task supervisor. Per-workspace watchers are
// started lazily by ActivateWorkspace.
func Open(opts Options) (*Engine, error) {
	resolver := pathresolve.New(opts.BaseDir)
	if err := resolver.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("engine: ensure layout: %w", err)
	}

	cfg, err := engineconfig.Load(resolver.BaseDir())
	if err != nil {
		return nil, fmt.Errorf("engine: load config: %w", err)
	}

	logger, cleanup, err := enginelog.Setup(enginelog.Config{
		Level:         cfg.Logging.Level,
		FilePath:      enginelog.LogPath(resolver.BaseDir()),
		MaxSizeMB:     int(cfg.Logging.MaxSizeBytes / (1024 * 1024)),
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.MirrorStderr,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: setup logging: %w", err)
	}

	reg := registry.New(resolver)
	if err := reg.Load(); err != nil {
		cleanup()
		return nil, fmt.Errorf("engine: load registry: %w", err)
	}

	idxStore := indexstore.New()
	facets := facet.New()

	var vecIdx *vectorindex.Index
	var memstore *memorystore.Store
	if opts.Embedder != nil {
		// semantic.New needs a MemoryLookup, and memorystore.New needs a
		// semantic.Backend: break the cycle by building a lookup-only Store
		// first (ContentByID never touches the semantic field), then the
		// real orchestrator, then the Store the engine actually uses.
		vecIdx = vectorindex.New(vectorindex.Config{Dimensions: 384})
		lookup := memorystore.New(idxStore, resolver.ProjectMemoryDir(), resolver.LocalMemoryDir(), facets, nil)
		orch := semantic.New(opts.Embedder, vecIdx, lookup, logger)
		memstore = memorystore.New(idxStore, resolver.ProjectMemoryDir(), resolver.LocalMemoryDir(), facets, orch)
	} else {
		memstore = memorystore.New(idxStore, resolver.ProjectMemoryDir(), resolver.LocalMemoryDir(), facets, nil)
	}

	lifecycleCfg := lifecycle.Config{
		AutoResolveThreshold:  cfg.Lifecycle.AutoResolveThreshold,
		PendingThreshold:      cfg.Lifecycle.PendingThreshold,
		PendingSuppressWindow: cfg.PendingSuppressWindow(),
		CacheEntryTTL:         5 * time.Minute,
		StartupDelay:          10 * time.Second,
		StaleSweepInterval:    cfg.StaleSweepInterval(),
		StaleAfterDays:        cfg.Lifecycle.StaleAfterDays,
	}
	life := lifecycle.New(memstore, resolver, lifecycleCfg, logger)

	backupSvc := backup.New(memstore, resolver.BackupsDir())
	supervisor := tasksupervisor.New(logger)

	resolve := func(workspace string) (string, error) {
		return resolver.MkWorkspaceIndexDir(workspace)
	}
	pl := pipeline.New(idxStore, resolve, pipeline.Options{
		BatchSize:      cfg.Indexing.BatchSize,
		DebounceWindow: cfg.DebounceWindow(),
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		resolver:   resolver,
		config:     cfg,
		logger:     logger,
		logCleanup: cleanup,
		registry:   reg,
		indexStore: idxStore,
		facets:     facets,
		memstore:   memstore,
		lifecycle:  life,
		backup:     backupSvc,
		supervisor: supervisor,
		vectorIdx:       vecIdx,
		pipeline:        pl,
		pipelineEvents:  make(chan watcher.Event, 1000),
		lifecycleEvents: make(chan watcher.Event, 1000),
		watchers:        make(map[string]*workspaceWatch),
		ctx:             ctx,
		cancel:          cancel,
	}
	// The eviction callback closes over e rather than being passed at
	// construction, since the cache needs to exist before e does not hold;
	// e is already fully allocated above, only its active field is unset.
	active, err := lru.NewWithEvict[string, struct{}](MaxActiveWorkspaces, func(hash string, _ struct{}) {
		_ = e.deactivateLocked(hash)
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("engine: create workspace LRU: %w", err)
	}
	e.active = active

	life.Start(ctx)
	go e.runLifecycleBridge(ctx)
	go pl.Run(ctx, e.pipelineEvents)

	if err := supervisor.Register(tasksupervisor.Job{
		Name:     "registry.orphan_scan",
		Schedule: "@every 1h",
		Run:      reg.ScanForOrphans,
	}); err != nil {
		logger.Warn("engine: could not register orphan scan job", slog.String("error", err.Error()))
	}
	if cfg.Backup.AutoBackupCron != "" {
		if err := supervisor.Register(tasksupervisor.Job{
			Name:     "backup.auto_export",
			Schedule: cfg.Backup.AutoBackupCron,
			Run: func() error {
				_, err := backupSvc.Export(context.Background(), cfg.Backup.IncludeLocalByDefault)
				return err
			},
		}); err != nil {
			logger.Warn("engine: could not register auto-backup job", slog.String("error", err.Error()))
		}
	}
	supervisor.Start()

	return e, nil
}

// runLifecycleBridge forwards every watcher event into the lifecycle
// engine in addition to the pipeline: a filesystem event flows watcher ->
// pipeline -> index, with the lifecycle engine separately subscribed to
// the same stream to drive pending/auto-resolve decisions.
func (e *Engine) runLifecycleBridge(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.lifecycleEvents:
			if !ok {
				return
			}
			if e.resolver.IsUnderBase(ev.Path) {
				continue
			}
			e.lifecycle.HandleEvent(ctx, ev)
		}
	}
}

// Resolver exposes the path resolver for callers (e.g. cmd/codesearchd)
// that need to print or validate on-disk paths.
func (e *Engine) Resolver() *pathresolve.Resolver { return e.resolver }

// Registry exposes the workspace registry for listing/status commands.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// MemoryStore exposes the memory store for direct store/search/update calls.
func (e *Engine) MemoryStore() *memorystore.Store { return e.memstore }

// Backup exposes the backup service for export/import commands.
func (e *Engine) Backup() *backup.Service { return e.backup }

// Lifecycle exposes the lifecycle engine, mainly for RecordFeedback from
// a CLI command.
func (e *Engine) Lifecycle() *lifecycle.Engine { return e.lifecycle }

// Supervisor exposes the periodic job registry for status reporting.
func (e *Engine) Supervisor() *tasksupervisor.Supervisor { return e.supervisor }

// ActivateWorkspace registers canonicalPath (if not already registered)
// and starts a filesystem watcher feeding the shared pipeline, evicting
// the least-recently-used active workspace if this would exceed
// MaxActiveWorkspaces.
func (e *Engine) ActivateWorkspace(canonicalPath, displayName string) (*registry.Workspace, error) {
	canonicalPath, err := pathresolve.Canonicalize(canonicalPath)
	if err != nil {
		return nil, err
	}
	ws, err := e.registry.Register(canonicalPath, displayName)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.watchers[ws.Hash]; ok {
		e.active.Add(ws.Hash, struct{}{})
		return ws, nil
	}

	indexDir, err := e.resolver.MkWorkspaceIndexDir(ws.Hash)
	if err != nil {
		return nil, err
	}
	if err := e.seedIfEmpty(e.ctx, indexDir, ws.Hash, canonicalPath); err != nil {
		e.logger.Warn("engine: initial index seed failed", slog.String("workspace", ws.Hash), slog.String("error", err.Error()))
	}
	if err := e.RefreshWorkspaceStatistics(ws.Hash); err != nil {
		e.logger.Warn("engine: refresh workspace statistics failed", slog.String("workspace", ws.Hash), slog.String("error", err.Error()))
	}

	w := watcher.New(ws.Hash, canonicalPath, watcher.Options{
		BaseDirName: pathresolve.BaseDirName,
		Logger:      e.logger,
	})
	if err := w.Start(e.ctx); err != nil {
		return nil, fmt.Errorf("engine: start watcher for %s: %w", canonicalPath, err)
	}
	go e.forward(w.Events())

	e.watchers[ws.Hash] = &workspaceWatch{hash: ws.Hash, w: w}
	e.active.Add(ws.Hash, struct{}{})
	return ws, nil
}

// forward fans a single workspace watcher's events out to both the
// indexing pipeline and the lifecycle bridge, each independently
// subscribed to the same stream.
func (e *Engine) forward(in <-chan watcher.Event) {
	for ev := range in {
		select {
		case e.pipelineEvents <- ev:
		case <-e.ctx.Done():
			return
		}
		select {
		case e.lifecycleEvents <- ev:
		case <-e.ctx.Done():
			return
		}
	}
}

// DeactivateWorkspace stops the watcher for hash without unregistering the
// workspace, so its index remains searchable; ActivateWorkspace can
// resume watching it later.
func (e *Engine) DeactivateWorkspace(hash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deactivateLocked(hash)
}

func (e *Engine) deactivateLocked(hash string) error {
	ww, ok := e.watchers[hash]
	if !ok {
		return nil
	}
	delete(e.watchers, hash)
	return ww.w.Stop()
}

// SearchMemory runs the memory store's search operation.
func (e *Engine) SearchMemory(ctx context.Context, req memorystore.SearchRequest) (*memorystore.SearchResult, error) {
	return e.memstore.Search(ctx, req)
}

// StoreMemory runs the memory store's store operation.
func (e *Engine) StoreMemory(ctx context.Context, m *memorystore.Memory) (bool, error) {
	return e.memstore.Store(ctx, m)
}

// Doctor runs preflight diagnostics against the engine's base directory.
func (e *Engine) Doctor(_ context.Context) Report {
	return runChecks(e.resolver)
}

// Shutdown implements the engine's graceful sequence: stop accepting new
// watcher events, drain whatever is already queued up to
// ChangeDrainDeadline so in-flight workspaces commit, then dispose every
// registry/cache/index handle.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for hash, ww := range e.watchers {
		_ = ww.w.Stop()
		delete(e.watchers, hash)
	}
	e.mu.Unlock()

	drainCtx, cancelDrain := context.WithTimeout(ctx, ChangeDrainDeadline)
	defer cancelDrain()
	e.drainEvents(drainCtx)

	e.lifecycle.Stop()
	e.supervisor.Stop()
	e.cancel()

	var firstErr error
	if err := e.indexStore.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	// vectorindex persistence is opt-in per caller (Save/Load take an
	// explicit path); the engine holds no single shared path to flush to
	// here, so there is nothing further to do for e.vectorIdx on shutdown.
	e.logCleanup()
	return firstErr
}

// drainEvents lets the pipeline and lifecycle bridge consume whatever is
// already buffered in e.pipelineEvents and e.lifecycleEvents, rather than
// discarding it, before Shutdown
// cancels their contexts.
func (e *Engine) drainEvents(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(ChangeDrainDeadline)
	}
	for {
		if time.Now().After(deadline) {
			return
		}
		if len(e.pipelineEvents) == 0 && len(e.lifecycleEvents) == 0 {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
}
