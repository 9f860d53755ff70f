// Package lifecycle implements the auto-resolution engine: on every
// file-change event, find memories that reference the changed path, score
// how confident the engine is that the change resolves or invalidates
// each one, and act — auto-resolve, flag for pending review, or do
// nothing — plus a periodic sweep that marks long-pending memories stale.
// It subscribes to the watcher's event stream the same way the indexing
// pipeline does: its own publish/consume loop.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anortham/codesearch-engine/internal/circuit"
	"github.com/anortham/codesearch-engine/internal/memorystore"
	"github.com/anortham/codesearch-engine/internal/pathresolve"
	"github.com/anortham/codesearch-engine/internal/watcher"
)

// Config tunes the engine's thresholds and timing.
type Config struct {
	AutoResolveThreshold  float64
	PendingThreshold      float64
	PendingSuppressWindow time.Duration
	CacheEntryTTL         time.Duration
	StartupDelay          time.Duration
	StaleSweepInterval    time.Duration
	StaleAfterDays        int
}

// DefaultConfig returns the engine's named defaults.
func DefaultConfig() Config {
	return Config{
		AutoResolveThreshold:  0.8,
		PendingThreshold:      0.5,
		PendingSuppressWindow: 60 * time.Second,
		CacheEntryTTL:         5 * time.Minute,
		StartupDelay:          10 * time.Second,
		StaleSweepInterval:    24 * time.Hour,
		StaleAfterDays:        30,
	}
}

// ConfidenceSnapshot is the factor breakdown and overall score computed
// for one (memory, change) pair.
type ConfidenceSnapshot struct {
	MemoryID    string
	Score       float64
	Factors     map[string]float64
	ChangeKind  watcher.Kind
	ChangedPath string
	ComputedAt  time.Time
}

// Engine is the lifecycle auto-resolution engine.
type Engine struct {
	memstore *memorystore.Store
	resolver *pathresolve.Resolver
	cfg      Config
	breaker  *circuit.Breaker
	logger   *slog.Logger

	mu               sync.Mutex
	confidenceCache  map[string]ConfidenceSnapshot
	pendingResolved  map[string]time.Time // memory_id -> last PendingResolution creation

	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates an Engine. logger may be nil.
func New(memstore *memorystore.Store, resolver *pathresolve.Resolver, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		memstore:        memstore,
		resolver:        resolver,
		cfg:             cfg,
		breaker:         circuit.New("lifecycle.pending_resolution", circuit.Options{}),
		logger:          logger,
		confidenceCache: make(map[string]ConfidenceSnapshot),
		pendingResolved: make(map[string]time.Time),
	}
}

// Start waits cfg.StartupDelay, then runs the stale sweep on
// cfg.StaleSweepInterval and the cache-pruning sweep every minute, until
// ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.cron = cron.New()
	_, _ = e.cron.AddFunc("@every 1m", func() { e.pruneCaches() })
	e.cron.Start()

	go func() {
		select {
		case <-time.After(e.cfg.StartupDelay):
		case <-ctx.Done():
			return
		}
		e.staleSweep(ctx)
		ticker := time.NewTicker(e.cfg.StaleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.staleSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and the cache-pruning cron.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.cron != nil {
		e.cron.Stop()
	}
}

// HandleEvent implements the on-file-change-event algorithm.
func (e *Engine) HandleEvent(ctx context.Context, ev watcher.Event) {
	if e.resolver.IsUnderBase(ev.Path) {
		return
	}

	memories, err := e.memstore.FindByFile(ctx, ev.Path)
	if err != nil {
		e.logger.Warn("lifecycle: find by file failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
		return
	}

	for _, m := range memories {
		snap := e.computeConfidence(m, ev)
		e.mu.Lock()
		e.confidenceCache[m.ID] = snap
		e.mu.Unlock()

		switch {
		case snap.Score >= e.cfg.AutoResolveThreshold:
			e.autoResolve(ctx, m, snap)
		case snap.Score >= e.cfg.PendingThreshold && eligibleForPending(m) && !e.recentlyPended(m.ID):
			e.createPendingResolution(ctx, m, snap)
		}
	}
}

func eligibleForPending(m *memorystore.Memory) bool {
	return m.Type != memorystore.TypePendingResolution && m.Type != memorystore.TypeResolutionFeedback
}

func (e *Engine) recentlyPended(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.pendingResolved[id]
	return ok && time.Since(last) < e.cfg.PendingSuppressWindow
}

func (e *Engine) autoResolve(ctx context.Context, m *memorystore.Memory, snap ConfidenceSnapshot) {
	now := memorystore.StringField(time.Now().UTC().Format(time.RFC3339))
	score := memorystore.NumberField(snap.Score)
	reason := memorystore.StringField(reasonFor(snap))
	resolvedBy := memorystore.StringField("LifecycleEngine")
	status := memorystore.StringField("resolved")

	_, err := e.memstore.Update(ctx, memorystore.UpdateRequest{
		ID: m.ID,
		FieldUpdates: map[string]*memorystore.FieldValue{
			"status":               &status,
			"resolvedAt":           &now,
			"resolvedBy":           &resolvedBy,
			"resolutionConfidence": &score,
			"resolutionReason":     &reason,
		},
	})
	if err != nil {
		e.logger.Warn("lifecycle: auto-resolve failed", slog.String("memory_id", m.ID), slog.String("error", err.Error()))
	}
}

func (e *Engine) createPendingResolution(ctx context.Context, m *memorystore.Memory, snap ConfidenceSnapshot) {
	err := e.breaker.Execute(func() error {
		pr := &memorystore.Memory{
			Type:     memorystore.TypePendingResolution,
			Content:  "Possible resolution for memory " + m.ID + " following a change to " + snap.ChangedPath,
			IsShared: m.IsShared,
		}
		pr.SetField("relatedTo", memorystore.ArrayField([]string{m.ID}))
		pr.SetField("confidence", memorystore.NumberField(snap.Score))
		pr.SetField("changedPath", memorystore.StringField(snap.ChangedPath))
		pr.SetField("changeKind", memorystore.StringField(snap.ChangeKind.String()))
		_, err := e.memstore.Store(ctx, pr)
		return err
	})
	if err != nil {
		e.logger.Warn("lifecycle: pending resolution creation failed", slog.String("memory_id", m.ID), slog.String("error", err.Error()))
		return
	}
	e.mu.Lock()
	e.pendingResolved[m.ID] = time.Now()
	e.mu.Unlock()
}

func reasonFor(snap ConfidenceSnapshot) string {
	return "auto-resolved on " + snap.ChangeKind.String() + " of " + snap.ChangedPath
}

// RecordFeedback implements record_feedback(): writes a ResolutionFeedback
// memory referencing the stored confidence snapshot for memoryID, if any.
func (e *Engine) RecordFeedback(ctx context.Context, memoryID string, wasCorrect bool, note string) (bool, error) {
	e.mu.Lock()
	snap, ok := e.confidenceCache[memoryID]
	e.mu.Unlock()

	fb := &memorystore.Memory{
		Type:    memorystore.TypeResolutionFeedback,
		Content: note,
	}
	fb.SetField("relatedTo", memorystore.ArrayField([]string{memoryID}))
	fb.SetField("wasCorrect", memorystore.BoolField(wasCorrect))
	if ok {
		fb.SetField("confidenceAtResolution", memorystore.NumberField(snap.Score))
	}
	return e.memstore.Store(ctx, fb)
}

// staleSweep implements the periodic stale sweep: memories with
// fields.status=="pending" created before the staleness cutoff get
// fields.isStale=true and fields.markedStaleAt=now.
func (e *Engine) staleSweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -e.cfg.StaleAfterDays)
	res, err := e.memstore.Search(ctx, memorystore.SearchRequest{
		Query:      "*",
		Facets:     map[string]string{"status": "pending"},
		DateRange:  &memorystore.DateRange{To: cutoff},
		MaxResults: memorystore.MaxResultsCap,
	})
	if err != nil {
		e.logger.Warn("lifecycle: stale sweep search failed", slog.String("error", err.Error()))
		return
	}

	stale := memorystore.BoolField(true)
	markedAt := memorystore.StringField(time.Now().UTC().Format(time.RFC3339))
	for _, m := range res.Memories {
		_, err := e.memstore.Update(ctx, memorystore.UpdateRequest{
			ID: m.ID,
			FieldUpdates: map[string]*memorystore.FieldValue{
				"isStale":       &stale,
				"markedStaleAt": &markedAt,
			},
		})
		if err != nil {
			e.logger.Warn("lifecycle: mark stale failed", slog.String("memory_id", m.ID), slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) pruneCaches() {
	cutoff := time.Now().Add(-e.cfg.CacheEntryTTL)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, snap := range e.confidenceCache {
		if snap.ComputedAt.Before(cutoff) {
			delete(e.confidenceCache, id)
		}
	}
	for id, t := range e.pendingResolved {
		if t.Before(cutoff) {
			delete(e.pendingResolved, id)
		}
	}
}
