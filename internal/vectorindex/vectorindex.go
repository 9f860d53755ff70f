// Package vectorindex provides the default in-process vector index
// adapter: a coder/hnsw-backed implementation of semantic.VectorIndex,
// with metadata-aware filtering and gob-based persistence. Deletion is
// lazy (orphaning rather than removing nodes, to sidestep a coder/hnsw bug
// where deleting the last node breaks), vectors are cosine-normalized on
// insert, and Save/Load use an atomic temp-file-then-rename, with a
// per-id metadata bag so Search can filter by facet value via an optional
// filter map.
package vectorindex

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/anortham/codesearch-engine/internal/semantic"
)

// Metric selects the HNSW distance function.
type Metric string

const (
	MetricCosine    Metric = "cos"
	MetricEuclidean Metric = "l2"
)

// Config tunes the underlying HNSW graph.
type Config struct {
	Dimensions int
	Metric     Metric
	M          int
	EfSearch   int
}

func (c Config) withDefaults() Config {
	if c.Metric == "" {
		c.Metric = MetricCosine
	}
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 20
	}
	return c
}

// DimensionMismatchError reports a vector whose length disagrees with the
// index's configured Dimensions.
type DimensionMismatchError struct {
	Expected, Got int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("vectorindex: expected %d dimensions, got %d", e.Expected, e.Got)
}

// Index is the default semantic.VectorIndex implementation.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	meta    map[string]map[string]string

	closed bool
}

type persisted struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  Config
	Meta    map[string]map[string]string
}

// New creates an empty Index.
func New(cfg Config) *Index {
	cfg = cfg.withDefaults()

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case MetricEuclidean:
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &Index{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		meta:    make(map[string]map[string]string),
		nextKey: 0,
	}
}

var _ semantic.VectorIndex = (*Index)(nil)

// Upsert inserts or replaces id's vector and metadata. Replacing an
// existing id uses lazy deletion: the old graph node is orphaned (its key
// dropped from keyMap) rather than removed, working around a coder/hnsw
// bug when the last node is deleted.
func (idx *Index) Upsert(_ context.Context, id string, vector []float32, metadata map[string]string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("vectorindex: closed")
	}
	if idx.config.Dimensions != 0 && len(vector) != idx.config.Dimensions {
		return DimensionMismatchError{Expected: idx.config.Dimensions, Got: len(vector)}
	}
	if idx.config.Dimensions == 0 {
		idx.config.Dimensions = len(vector)
	}

	if existingKey, ok := idx.idMap[id]; ok {
		delete(idx.keyMap, existingKey)
		delete(idx.idMap, id)
	}

	key := idx.nextKey
	idx.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if idx.config.Metric == MetricCosine {
		normalize(vec)
	}

	idx.graph.Add(hnsw.MakeNode(key, vec))
	idx.idMap[id] = key
	idx.keyMap[key] = id
	if metadata != nil {
		idx.meta[id] = metadata
	} else {
		delete(idx.meta, id)
	}
	return nil
}

// Delete lazily removes id: its graph node is orphaned, its mappings
// dropped.
func (idx *Index) Delete(_ context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("vectorindex: closed")
	}
	if key, ok := idx.idMap[id]; ok {
		delete(idx.keyMap, key)
		delete(idx.idMap, id)
	}
	delete(idx.meta, id)
	return nil
}

// Search returns up to k nearest neighbors of vector, restricted to
// entries whose metadata matches every key/value pair in filter.
func (idx *Index) Search(_ context.Context, vector []float32, k int, filter map[string]string) ([]semantic.Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, fmt.Errorf("vectorindex: closed")
	}
	if idx.config.Dimensions != 0 && len(vector) != idx.config.Dimensions {
		return nil, DimensionMismatchError{Expected: idx.config.Dimensions, Got: len(vector)}
	}
	if idx.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(vector))
	copy(q, vector)
	if idx.config.Metric == MetricCosine {
		normalize(q)
	}

	// Over-fetch to absorb orphaned nodes and filter misses, then trim to k.
	fetch := k
	if len(filter) > 0 {
		fetch = k * 4
	}
	if fetch < k {
		fetch = k
	}
	orphans := idx.graph.Len() - len(idx.keyMap)
	nodes := idx.graph.Search(q, fetch+orphans)

	out := make([]semantic.Result, 0, k)
	for _, node := range nodes {
		id, ok := idx.keyMap[node.Key]
		if !ok {
			continue
		}
		md := idx.meta[id]
		if !matchesFilter(md, filter) {
			continue
		}
		distance := idx.graph.Distance(q, node.Value)
		out = append(out, semantic.Result{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, idx.config.Metric),
			Metadata: md,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// Count returns the number of live (non-orphaned) entries.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idMap)
}

// Save atomically persists the graph and its id/metadata mappings under
// path (graph) and path+".meta" (gob), temp-file-then-rename as the
// teacher does.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return fmt.Errorf("vectorindex: closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vectorindex: create directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vectorindex: create index file: %w", err)
	}
	if err := idx.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: rename index file: %w", err)
	}
	return idx.saveMetadata(path + ".meta")
}

func (idx *Index) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vectorindex: create metadata file: %w", err)
	}
	p := persisted{IDMap: idx.idMap, NextKey: idx.nextKey, Config: idx.config, Meta: idx.meta}
	if err := gob.NewEncoder(f).Encode(p); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: encode metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces idx's contents with those persisted at path by Save.
func (idx *Index) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("vectorindex: closed")
	}
	if err := idx.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("vectorindex: load metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("vectorindex: open index file: %w", err)
	}
	defer f.Close()

	if err := idx.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("vectorindex: import graph: %w", err)
	}
	return nil
}

func (idx *Index) loadMetadata(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var p persisted
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	idx.idMap = p.IDMap
	idx.keyMap = make(map[uint64]string, len(p.IDMap))
	idx.nextKey = p.NextKey
	idx.config = p.Config
	idx.meta = p.Meta
	if idx.meta == nil {
		idx.meta = make(map[string]map[string]string)
	}
	for id, key := range idx.idMap {
		idx.keyMap[key] = id
	}
	return nil
}

// Close marks the index unusable; coder/hnsw's Graph needs no explicit
// teardown.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	idx.graph = nil
	return nil
}

func normalize(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func distanceToScore(distance float32, metric Metric) float32 {
	switch metric {
	case MetricEuclidean:
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
