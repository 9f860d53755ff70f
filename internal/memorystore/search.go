package memorystore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/anortham/codesearch-engine/internal/facet"
	"github.com/anortham/codesearch-engine/internal/queryexpand"
)

// scored pairs a candidate memory with its search-time sort key, computed
// once so Search can sort without recomputing per comparison.
type scored struct {
	m         *Memory
	indexPath string
	sortKey   float64
}

// Search runs a nine-step pipeline: validate, build query, search both
// indexes, post-filter, sort (with optional boosting), compute facets,
// paginate, generate insights, and batch-update access counters on the
// returned page.
func (s *Store) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.MaxResults <= 0 {
		req.MaxResults = 50
	}
	if req.MaxResults > MaxResultsCap {
		req.MaxResults = MaxResultsCap
	}
	if err := validateSearchRequest(req); err != nil {
		return &SearchResult{Warnings: []string{err.Error()}}, nil
	}

	q := queryexpand.BuildQuery(req.Query)
	q = applyFacetFilters(q, req.Facets)
	q = applyDateRange(q, req.DateRange)

	now := time.Now().UTC()
	var candidates []scored
	var snapshot *facet.Snapshot

	for _, path := range []string{s.projectPath, s.localPath} {
		searcher, err := s.idx.Searcher(path)
		if err != nil {
			return nil, err
		}

		breq := bleve.NewSearchRequest(q)
		breq.Size = MaxResultsCap
		breq.Fields = []string{"*"}
		res, err := searcher.Search(ctx, breq)
		if err != nil {
			return nil, err
		}

		for _, hit := range res.Hits {
			doc, err := hitToDocument(hit)
			if err != nil {
				continue
			}
			m := documentToMemory(doc)
			if !passesPostFilter(m, req, now) {
				continue
			}
			candidates = append(candidates, scored{m: m, indexPath: path, sortKey: sortKeyFor(m, hit.Score, req, now)})
		}

		if s.facets != nil {
			snap, err := s.facets.Compute(ctx, searcher, path, req.Query, q, req.MaxResults)
			if err == nil {
				snapshot = mergeSnapshot(snapshot, snap)
			}
		}
	}

	sortCandidates(candidates, req)

	total := len(candidates)
	if total > req.MaxResults {
		candidates = candidates[:req.MaxResults]
	}

	// Copy rather than alias: bumpAccess below mutates AccessCount/
	// LastAccessed on c.m in place, and the returned page must reflect
	// the pre-bump values, not the counters a search call itself caused.
	memories := make([]*Memory, len(candidates))
	for i, c := range candidates {
		cp := *c.m
		memories[i] = &cp
	}

	facets := map[string]map[string]int{}
	if snapshot != nil {
		facets = snapshot.Counts
	}

	result := &SearchResult{
		Memories: memories,
		Total:    total,
		Facets:   facets,
		Insights: buildInsights(memories, now),
	}

	s.bumpAccess(ctx, candidates, now)

	return result, nil
}

func applyFacetFilters(q bleve.Query, facets map[string]string) bleve.Query {
	if len(facets) == 0 {
		return q
	}
	conj := bleve.NewConjunctionQuery(q)
	for field, value := range facets {
		tq := bleve.NewTermQuery(strings.ToLower(value))
		tq.SetField(facetFieldName(field))
		conj.AddQuery(tq)
	}
	return conj
}

func facetFieldName(dimension string) string {
	for _, d := range facet.Dimensions {
		if d.Name == dimension {
			return d.Field
		}
	}
	return dimension
}

func applyDateRange(q bleve.Query, dr *DateRange) bleve.Query {
	if dr == nil || (dr.From.IsZero() && dr.To.IsZero()) {
		return q
	}
	var from, to *float64
	if !dr.From.IsZero() {
		v := float64(dr.From.Unix())
		from = &v
	}
	if !dr.To.IsZero() {
		v := float64(dr.To.Unix())
		to = &v
	}
	inclusive := true
	rangeQ := bleve.NewNumericRangeInclusiveQuery(from, to, &inclusive, &inclusive)
	rangeQ.SetField("created")
	return bleve.NewConjunctionQuery(q, rangeQ)
}

func passesPostFilter(m *Memory, req SearchRequest, now time.Time) bool {
	if m.Type == TypeWorkingMemory && m.IsExpired(now) {
		return false
	}
	if !req.IncludeArchived && m.IsArchived() {
		return false
	}
	if len(req.Types) > 0 {
		typeMatch := false
		for _, t := range req.Types {
			if m.Type == t {
				typeMatch = true
				break
			}
		}
		if !typeMatch {
			return false
		}
	}
	if len(req.RelatedToIDs) > 0 {
		related := m.RelatedTo()
		if !intersects(related, req.RelatedToIDs) {
			return false
		}
	}
	return true
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}

// sortKeyFor computes the value sortCandidates orders by: the boosted
// score when boosting is enabled, otherwise the field named by order_by.
func sortKeyFor(m *Memory, indexScore float64, req SearchRequest, now time.Time) float64 {
	if req.BoostRecent || req.BoostFrequent {
		recency := 1.0
		if req.BoostRecent {
			age := now.Sub(m.Created)
			decay := 1.0 - 0.9*(float64(age)/float64(recencyFullYear))
			recency = math.Max(0.1, math.Min(1.0, decay))
		}
		frequency := 1.0
		if req.BoostFrequent {
			frequency = math.Log1p(float64(m.AccessCount))
			if frequency == 0 {
				frequency = 1.0
			}
		}
		return indexScore * recency * frequency
	}

	switch req.OrderBy {
	case "created":
		return float64(m.Created.Unix())
	case "modified":
		return float64(m.Modified.Unix())
	case "type":
		return 0 // type is not numeric; sorted lexically below
	case "score", "":
		return indexScore
	default:
		return float64(m.TimeFieldOr(req.OrderBy, time.Time{}).Unix())
	}
}

func sortCandidates(candidates []scored, req SearchRequest) {
	desc := req.OrderDescending
	if req.OrderBy == "" && !req.BoostRecent && !req.BoostFrequent {
		// Default ordering: created DESC.
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].m.Created.After(candidates[j].m.Created)
		})
		return
	}
	if req.OrderBy == "type" {
		sort.Slice(candidates, func(i, j int) bool {
			if desc {
				return candidates[i].m.Type > candidates[j].m.Type
			}
			return candidates[i].m.Type < candidates[j].m.Type
		})
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		if desc {
			return candidates[i].sortKey > candidates[j].sortKey
		}
		return candidates[i].sortKey < candidates[j].sortKey
	})
	if !desc && (req.BoostRecent || req.BoostFrequent) {
		// Boosted results always rank highest-first regardless of
		// order_descending, since the boost formula is itself a ranking
		// score rather than a raw field value.
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].sortKey > candidates[j].sortKey })
	}
}

func mergeSnapshot(a, b *facet.Snapshot) *facet.Snapshot {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	merged := &facet.Snapshot{Counts: make(map[string]map[string]int, len(a.Counts)), Total: a.Total + b.Total}
	for dim, vals := range a.Counts {
		merged.Counts[dim] = map[string]int{}
		for v, c := range vals {
			merged.Counts[dim][v] += c
		}
	}
	for dim, vals := range b.Counts {
		if merged.Counts[dim] == nil {
			merged.Counts[dim] = map[string]int{}
		}
		for v, c := range vals {
			merged.Counts[dim][v] += c
		}
	}
	return merged
}

// buildInsights summarizes a page of search results into a short
// human-readable digest.
func buildInsights(memories []*Memory, now time.Time) Insights {
	if len(memories) == 0 {
		return Insights{Summary: "No memories matched this search."}
	}

	byType := map[string]int{}
	pending := 0
	oldPending := 0
	critical := 0
	for _, m := range memories {
		byType[m.Type]++
		if m.Status() == "pending" {
			pending++
			if now.Sub(m.Created) > 30*24*time.Hour {
				oldPending++
			}
		}
		if m.Priority() == "critical" {
			critical++
		}
	}

	topType, topCount := "", 0
	for t, c := range byType {
		if c > topCount {
			topType, topCount = t, c
		}
	}
	summary := fmt.Sprintf("%d memories found, mostly %s (%d)", len(memories), topType, topCount)

	var patterns []string
	if pending*2 > len(memories) {
		patterns = append(patterns, "majority pending")
	}
	if oldPending > 0 {
		patterns = append(patterns, fmt.Sprintf("%d pending items older than 30 days", oldPending))
	}

	var actions []string
	if pending > 5 {
		actions = append(actions, "review pending items")
	}
	if critical > 0 {
		actions = append(actions, "address critical items")
	}

	return Insights{Summary: summary, Patterns: patterns, RecommendedActions: actions}
}

// bumpAccess increments access_count/last_accessed for the returned page
// under accessMu, a single process-local mutex; cross-process exclusion on
// the index itself is the index store's job.
func (s *Store) bumpAccess(ctx context.Context, candidates []scored, now time.Time) {
	if len(candidates) == 0 {
		return
	}
	s.accessMu.Lock()
	defer s.accessMu.Unlock()

	byPath := map[string][]scored{}
	for _, c := range candidates {
		byPath[c.indexPath] = append(byPath[c.indexPath], c)
	}
	for path, group := range byPath {
		writer, err := s.idx.Writer(path)
		if err != nil {
			continue
		}
		for _, c := range group {
			c.m.AccessCount++
			c.m.LastAccessed = now
			doc := memoryToDocument(c.m)
			_ = writer.Update(c.m.ID, doc)
		}
		_ = writer.Commit(ctx)
	}
}
