// Package semantic implements the thin orchestrator that, on every
// successful memory write, computes an embedding and upserts it into a
// pluggable vector index, never failing the primary write on error. The
// embedding model itself (EmbeddingService) is an external collaborator
// consumed only through this package's narrow interface; internal/
// vectorindex supplies the default in-process VectorIndex adapter. The
// lifecycle/memory/semantic relationship is explicit interfaces wired
// once at the composition root, never a circular construction.
package semantic

import (
	"context"
	"log/slog"
)

// Item is what gets embedded and upserted: a memory's content plus a flat
// metadata bag the vector index can filter on (type, is_shared, …).
type Item struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Result is one semantic match.
type Result struct {
	ID       string
	Score    float32
	Distance float32
	Metadata map[string]string
}

// EmbeddingService turns text into a fixed-dimension vector. The real
// implementation (a local or remote embedding model) lives outside this
// module.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores and searches embeddings by id. internal/vectorindex
// provides the default coder/hnsw-backed implementation.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Result, error)
}

// MemoryLookup resolves a memory id to the text FindSimilar should embed
// and search with. Implemented by internal/memorystore.Store; injected
// here rather than imported to avoid a package cycle (memorystore already
// depends on this package's Backend interface for on-write indexing).
type MemoryLookup interface {
	ContentByID(id string) (text string, ok bool)
}

// Backend is the interface the memory store writes through.
type Backend interface {
	Index(ctx context.Context, item Item) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, queryText string, k int, filter map[string]string, threshold float32) ([]Result, error)
	FindSimilar(ctx context.Context, id string, k int, threshold float32) ([]Result, error)
}

// Orchestrator composes an EmbeddingService and a VectorIndex into a
// Backend. Every failure from Embed or Upsert is logged and swallowed on
// the write path; only Search/FindSimilar propagate errors, since those
// are read paths with no "primary write" to protect.
type Orchestrator struct {
	Embedder    EmbeddingService
	VectorIndex VectorIndex
	Lookup      MemoryLookup
	Logger      *slog.Logger
}

// New creates an Orchestrator. logger may be nil, in which case
// slog.Default() is used.
func New(embedder EmbeddingService, idx VectorIndex, lookup MemoryLookup, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{Embedder: embedder, VectorIndex: idx, Lookup: lookup, Logger: logger}
}

var _ Backend = (*Orchestrator)(nil)

// Index embeds item.Text and upserts it, swallowing any failure: errors
// are logged, never propagated to fail the primary write.
func (o *Orchestrator) Index(ctx context.Context, item Item) error {
	vec, err := o.Embedder.Embed(ctx, item.Text)
	if err != nil {
		o.Logger.Warn("semantic embed failed, skipping vector upsert",
			slog.String("id", item.ID), slog.String("error", err.Error()))
		return nil
	}
	if err := o.VectorIndex.Upsert(ctx, item.ID, vec, item.Metadata); err != nil {
		o.Logger.Warn("semantic upsert failed",
			slog.String("id", item.ID), slog.String("error", err.Error()))
	}
	return nil
}

// Delete removes id's vector entry, swallowing failure for the same
// reason Index does.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if err := o.VectorIndex.Delete(ctx, id); err != nil {
		o.Logger.Warn("semantic delete failed", slog.String("id", id), slog.String("error", err.Error()))
	}
	return nil
}

// Search embeds queryText and returns the k nearest matches at or above
// threshold.
func (o *Orchestrator) Search(ctx context.Context, queryText string, k int, filter map[string]string, threshold float32) ([]Result, error) {
	vec, err := o.Embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	results, err := o.VectorIndex.Search(ctx, vec, k, filter)
	if err != nil {
		return nil, err
	}
	return filterByThreshold(results, threshold), nil
}

// FindSimilar loads id's content through Lookup and delegates to Search.
func (o *Orchestrator) FindSimilar(ctx context.Context, id string, k int, threshold float32) ([]Result, error) {
	text, ok := o.Lookup.ContentByID(id)
	if !ok {
		return nil, nil
	}
	results, err := o.Search(ctx, text, k, nil, threshold)
	if err != nil {
		return nil, err
	}
	out := results[:0]
	for _, r := range results {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out, nil
}

func filterByThreshold(results []Result, threshold float32) []Result {
	if threshold <= 0 {
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	return out
}
