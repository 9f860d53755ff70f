// Package pipeline implements the debounce-and-batch indexing loop that
// turns filesystem events into index mutations, extracting line-aware
// postings (LineData) along the way.
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anortham/codesearch-engine/internal/engineerr"
	"github.com/anortham/codesearch-engine/internal/indexstore"
	"github.com/anortham/codesearch-engine/internal/watcher"
)

// DefaultBatchSize and DefaultDebounceWindow are the pipeline's stated
// defaults.
const (
	DefaultBatchSize      = 50
	DefaultDebounceWindow = 500 * time.Millisecond
)

// IndexPathResolver maps a workspace identifier to its on-disk index
// directory. Implemented by the composition root via pathresolve +
// registry.
type IndexPathResolver func(workspace string) (string, error)

// Options configures a Pipeline.
type Options struct {
	BatchSize      int
	DebounceWindow time.Duration
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.DebounceWindow == 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Pipeline consumes filesystem events, debounces and batches them, and
// applies the resulting add/update/delete operations to a Store.
type Pipeline struct {
	store     *indexstore.Store
	resolve   IndexPathResolver
	debouncer *Debouncer
	opts      Options
}

// New creates a Pipeline writing into store, resolving workspace ids to
// index directories via resolve.
func New(store *indexstore.Store, resolve IndexPathResolver, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		store:     store,
		resolve:   resolve,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.BatchSize, opts.Logger),
		opts:      opts,
	}
}

// Run feeds events into the debouncer and processes flushed batches until
// ctx is cancelled or events closes.
func (p *Pipeline) Run(ctx context.Context, events <-chan watcher.Event) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				p.debouncer.Stop()
				return
			case ev, ok := <-events:
				if !ok {
					p.debouncer.Stop()
					return
				}
				p.debouncer.Add(ev)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-p.debouncer.Output():
			if !ok {
				return
			}
			p.processBatch(ctx, batch)
		}
	}
}

// IndexBatch applies events to workspace's index directly, bypassing the
// debouncer. Used for a one-shot initial index of a workspace's existing
// files, where there is no burst to coalesce and commits should happen as
// soon as the walk completes rather than waiting out a debounce window.
func (p *Pipeline) IndexBatch(ctx context.Context, workspace string, events []watcher.Event) {
	p.processWorkspaceBatch(ctx, workspace, events)
}

// processBatch groups a coalesced batch by workspace and, within each
// workspace, processes deletes before creates/updates, then commits once.
func (p *Pipeline) processBatch(ctx context.Context, batch []watcher.Event) {
	byWorkspace := make(map[string][]watcher.Event)
	for _, ev := range batch {
		byWorkspace[ev.Workspace] = append(byWorkspace[ev.Workspace], ev)
	}

	for ws, events := range byWorkspace {
		p.processWorkspaceBatch(ctx, ws, events)
	}
}

func (p *Pipeline) processWorkspaceBatch(ctx context.Context, workspace string, events []watcher.Event) {
	indexPath, err := p.resolve(workspace)
	if err != nil {
		p.opts.Logger.Error("resolve index path failed", slog.String("workspace", workspace), slog.String("error", err.Error()))
		return
	}

	w, err := p.store.Writer(indexPath)
	if err != nil {
		p.opts.Logger.Error("acquire index writer failed", slog.String("workspace", workspace), slog.String("error", err.Error()))
		return
	}

	var deletes, upserts []watcher.Event
	for _, ev := range events {
		if ev.Kind == watcher.Deleted {
			deletes = append(deletes, ev)
		} else {
			upserts = append(upserts, ev)
		}
	}

	for _, ev := range deletes {
		if err := w.DeleteByTerm(ev.Path); err != nil {
			p.opts.Logger.Error("delete document failed",
				slog.String("workspace", workspace), slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}

	for _, ev := range upserts {
		if err := p.indexFile(w, ev); err != nil {
			// Errors per file are isolated and logged; the batch continues.
			p.opts.Logger.Warn("index file failed",
				slog.String("workspace", workspace), slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}

	if err := w.Commit(ctx); err != nil {
		p.opts.Logger.Error("commit failed", slog.String("workspace", workspace), slog.String("error", err.Error()))
	}
}

func (p *Pipeline) indexFile(w *indexstore.Writer, ev watcher.Event) error {
	content, err := os.ReadFile(ev.Path)
	if err != nil {
		return engineerr.New(engineerr.CodeFileNotFound, "read file for indexing", err)
	}

	ld := ExtractLineData(string(content))
	blob, err := ld.Marshal()
	if err != nil {
		return engineerr.New(engineerr.CodeInternal, "marshal line data", err)
	}

	doc := &indexstore.Document{
		Path:           ev.Path,
		Filename:       filepath.Base(ev.Path),
		Directory:      filepath.Dir(ev.Path),
		Extension:      strings.ToLower(filepath.Ext(ev.Path)),
		Size:           int64(len(content)),
		Content:        string(content),
		ContentRaw:     string(content),
		LineDataJSON:   blob,
		LineDataVer:    LineDataVersion,
		TimestampTicks: ev.Timestamp.UnixNano(),
	}

	return w.Update(ev.Path, doc)
}
