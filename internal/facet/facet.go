// Package facet implements the configured facet taxonomy, faceted
// drill-down search, and suggestion generation (discriminating,
// query-context, popular-combination, smart-default), behind a
// time-boxed cache invalidated on write, built on bleve's own
// SearchRequest/Facets shape applied to six memory dimensions.
package facet

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/anortham/codesearch-engine/internal/indexstore"
)

// Dimension describes one configured facet dimension.
type Dimension struct {
	Name         string
	Field        string
	Hierarchical bool
	MultiValued  bool
}

// Dimensions is the fixed six-dimension taxonomy.
var Dimensions = []Dimension{
	{Name: "type", Field: "memoryType", Hierarchical: true},
	{Name: "status", Field: "status"},
	{Name: "priority", Field: "priority"},
	{Name: "category", Field: "category", Hierarchical: true},
	{Name: "is_shared", Field: "isShared"},
	{Name: "files", Field: "filesInvolved", MultiValued: true},
}

// DefaultTopN is the per-dimension facet size.
const DefaultTopN = 10

// CacheTTL is the facet cache lifetime.
const CacheTTL = 5 * time.Minute

// DefaultMaxSuggestions caps Suggestions' output.
const DefaultMaxSuggestions = 5

// Snapshot is a computed set of per-dimension facet counts for one query.
type Snapshot struct {
	Counts   map[string]map[string]int
	Total    int
	CachedAt time.Time
}

type cacheEntry struct {
	snap     *Snapshot
	cachedAt time.Time
}

// Service computes and caches facet snapshots per workspace.
type Service struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates an empty faceting Service.
func New() *Service {
	return &Service{cache: make(map[string]cacheEntry)}
}

func cacheKey(workspace, queryText string, maxResults int) string {
	return workspace + "\x00" + queryText + "\x00" + strconv.Itoa(maxResults)
}

// Compute runs a faceted search for q against searcher, caching the
// result under (workspace, queryText, maxResults) for CacheTTL.
func (s *Service) Compute(ctx context.Context, searcher *indexstore.Searcher, workspace, queryText string, q bleve.Query, maxResults int) (*Snapshot, error) {
	key := cacheKey(workspace, queryText, maxResults)

	s.mu.Lock()
	if e, ok := s.cache[key]; ok && time.Since(e.cachedAt) < CacheTTL {
		s.mu.Unlock()
		return e.snap, nil
	}
	s.mu.Unlock()

	req := bleve.NewSearchRequest(q)
	req.Size = 0
	for _, d := range Dimensions {
		req.AddFacet(d.Name, bleve.NewFacetRequest(d.Field, DefaultTopN))
	}

	res, err := searcher.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Counts:   make(map[string]map[string]int, len(Dimensions)),
		Total:    int(res.Total),
		CachedAt: time.Now(),
	}
	for name, fr := range res.Facets {
		vals := make(map[string]int)
		if fr.Terms != nil {
			for _, tf := range *fr.Terms {
				vals[tf.Term] = tf.Count
			}
		}
		snap.Counts[name] = vals
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{snap: snap, cachedAt: snap.CachedAt}
	s.mu.Unlock()

	return snap, nil
}

// Invalidate drops every cached entry for workspace. Called after any
// memory write to that workspace's index.
func (s *Service) Invalidate(workspace string) {
	prefix := workspace + "\x00"
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
}

// Suggestion is one proposed (dimension, value) drill-down.
type Suggestion struct {
	Dimension string
	Value     string
	Reason    string
}

// queryContextRules is the fixed keyword-to-facet mapping ("authentication"
// -> type:SecurityRule, category:Backend/Security).
var queryContextRules = []struct {
	Keyword   string
	Dimension string
	Value     string
}{
	{"authentication", "type", "SecurityRule"},
	{"authentication", "category", "Backend/Security"},
	{"security", "type", "SecurityRule"},
	{"auth", "type", "SecurityRule"},
	{"debt", "type", "TechnicalDebt"},
	{"bug", "type", "BugReport"},
	{"performance", "category", "Backend/Performance"},
	{"architecture", "type", "ArchitecturalDecision"},
}

// popularCombinations is the fixed if-this-then-that rule table
// (type:TechnicalDebt ⇒ suggest priority:high).
var popularCombinations = map[string][]Suggestion{
	"type:TechnicalDebt": {{Dimension: "priority", Value: "high", Reason: "popular combination with TechnicalDebt"}},
	"type:BugReport":     {{Dimension: "priority", Value: "high", Reason: "popular combination with BugReport"}},
	"type:SecurityRule":  {{Dimension: "priority", Value: "critical", Reason: "popular combination with SecurityRule"}},
}

// smartDefaultOrder is the fixed dimension priority order for smart
// defaults.
var smartDefaultOrder = []string{"type", "priority", "status", "is_shared", "category"}

// Suggestions ranks up to maxSuggestions unique (dimension, value)
// proposals from snap, queryText, and the already-applied facet filters,
// combining discriminating, query-context, popular-combination, and
// smart-default strategies.
func (s *Service) Suggestions(snap *Snapshot, queryText string, applied map[string]string, maxSuggestions int) []Suggestion {
	if maxSuggestions <= 0 {
		maxSuggestions = DefaultMaxSuggestions
	}
	var out []Suggestion
	seen := make(map[string]bool)
	add := func(sg Suggestion) bool {
		key := sg.Dimension + ":" + sg.Value
		if seen[key] || len(out) >= maxSuggestions {
			return false
		}
		seen[key] = true
		out = append(out, sg)
		return true
	}

	for _, sg := range discriminatingSuggestions(snap, applied) {
		if len(out) >= maxSuggestions {
			break
		}
		add(sg)
	}

	lowerQ := strings.ToLower(queryText)
	for _, rule := range queryContextRules {
		if len(out) >= maxSuggestions {
			break
		}
		if strings.Contains(lowerQ, rule.Keyword) {
			add(Suggestion{Dimension: rule.Dimension, Value: rule.Value,
				Reason: fmt.Sprintf("query mentions %q", rule.Keyword)})
		}
	}

	appliedKeys := make([]string, 0, len(applied))
	for dim, val := range applied {
		appliedKeys = append(appliedKeys, dim+":"+val)
	}
	sort.Strings(appliedKeys)
	for _, key := range appliedKeys {
		if combos, ok := popularCombinations[key]; ok {
			for _, c := range combos {
				if len(out) >= maxSuggestions {
					break
				}
				add(c)
			}
		}
	}

	if len(applied) == 0 {
		for _, dim := range smartDefaultOrder {
			if len(out) >= maxSuggestions {
				break
			}
			val, count := topValue(snap.Counts[dim])
			if val == "" || snap.Total == 0 {
				continue
			}
			share := float64(count) / float64(snap.Total)
			if share >= 0.1 && share <= 0.8 {
				add(Suggestion{Dimension: dim, Value: val, Reason: "smart default"})
			}
		}
	}

	return out
}

// discriminatingSuggestion candidates: for each dimension not already
// filtered, the value whose share of the result set is within [0.2, 0.6],
// ranked by closeness to 0.35.
func discriminatingSuggestions(snap *Snapshot, applied map[string]string) []Suggestion {
	type candidate struct {
		sg   Suggestion
		dist float64
	}
	var candidates []candidate
	dims := make([]string, 0, len(snap.Counts))
	for dim := range snap.Counts {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	for _, dim := range dims {
		if _, ok := applied[dim]; ok {
			continue
		}
		if snap.Total == 0 {
			continue
		}
		vals := make([]string, 0, len(snap.Counts[dim]))
		for v := range snap.Counts[dim] {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		for _, v := range vals {
			count := snap.Counts[dim][v]
			share := float64(count) / float64(snap.Total)
			if share >= 0.2 && share <= 0.6 {
				candidates = append(candidates, candidate{
					sg:   Suggestion{Dimension: dim, Value: v, Reason: "discriminates the result set"},
					dist: abs(share - 0.35),
				})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	out := make([]Suggestion, len(candidates))
	for i, c := range candidates {
		out[i] = c.sg
	}
	return out
}

func topValue(vals map[string]int) (string, int) {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var best string
	var bestCount int
	for _, k := range keys {
		if vals[k] > bestCount {
			best, bestCount = k, vals[k]
		}
	}
	return best, bestCount
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
