package lifecycle

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/anortham/codesearch-engine/internal/memorystore"
	"github.com/anortham/codesearch-engine/internal/watcher"
)

var memoryTypeScores = map[string]float64{
	memorystore.TypeTechnicalDebt:         0.9,
	memorystore.TypeBugReport:             0.85,
	memorystore.TypeQuestion:              0.7,
	memorystore.TypeCodePattern:           0.5,
	memorystore.TypeArchitecturalDecision: 0.3,
	memorystore.TypeSecurityRule:          0.2,
}

var changeKindScores = map[watcher.Kind]float64{
	watcher.Deleted:  0.9,
	watcher.Modified: 0.7,
	watcher.Created:  0.5,
	watcher.Renamed:  0.4,
}

var statusScores = map[string]float64{
	"pending":     0.8,
	"in_progress": 0.6,
	"blocked":     0.4,
	"resolved":    0.1,
}

var contentKeywords = []string{"todo", "fixme", "bug", "issue", "problem", "error", "broken"}

// computeConfidence implements the six-factor weighted confidence score.
func (e *Engine) computeConfidence(m *memorystore.Memory, ev watcher.Event) ConfidenceSnapshot {
	factors := map[string]float64{
		"memory_type":      memoryTypeFactor(m.Type),
		"file_relevance":   fileRelevanceFactor(m.FilesInvolved, ev.Path),
		"change_kind":      changeKindFactor(ev.Kind),
		"age":              ageFactor(m.Created),
		"status":           statusFactor(m.Status()),
		"content_keywords": contentKeywordsFactor(m, ev),
	}

	score := 0.25*factors["memory_type"] +
		0.20*factors["file_relevance"] +
		0.15*factors["change_kind"] +
		0.15*factors["age"] +
		0.15*factors["status"] +
		0.10*factors["content_keywords"]

	return ConfidenceSnapshot{
		MemoryID:    m.ID,
		Score:       score,
		Factors:     factors,
		ChangeKind:  ev.Kind,
		ChangedPath: ev.Path,
		ComputedAt:  time.Now(),
	}
}

func memoryTypeFactor(t string) float64 {
	if v, ok := memoryTypeScores[t]; ok {
		return v
	}
	return 0.5
}

func fileRelevanceFactor(files []string, changedPath string) float64 {
	if len(files) == 0 {
		return 0.1
	}
	changedDir := filepath.Dir(changedPath)
	best := 0.0
	for _, f := range files {
		if f == changedPath {
			return 1.0
		}
		if filepath.Dir(f) == changedDir {
			best = math.Max(best, 0.7)
			continue
		}
		prefix := commonPathPrefixLen(f, changedPath)
		share := 0.0
		if len(changedPath) > 0 {
			share = math.Min(float64(prefix)/float64(len(changedPath)), 0.6)
		}
		best = math.Max(best, share)
	}
	return best
}

func commonPathPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func changeKindFactor(k watcher.Kind) float64 {
	if v, ok := changeKindScores[k]; ok {
		return v
	}
	return 0.3
}

func ageFactor(created time.Time) float64 {
	age := time.Since(created)
	switch {
	case age < 7*24*time.Hour:
		return 0.3
	case age < 30*24*time.Hour:
		return 0.5
	case age < 90*24*time.Hour:
		return 0.7
	default:
		return 0.9
	}
}

func statusFactor(status string) float64 {
	if v, ok := statusScores[status]; ok {
		return v
	}
	return 0.5
}

func contentKeywordsFactor(m *memorystore.Memory, ev watcher.Event) float64 {
	lower := strings.ToLower(m.Content)
	hits := 0
	for _, kw := range contentKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	score := 0.15 * float64(hits)

	base := strings.TrimSuffix(filepath.Base(ev.Path), filepath.Ext(ev.Path))
	if base != "" && strings.Contains(lower, strings.ToLower(base)) {
		score += 0.3
	}
	if ev.Kind == watcher.Modified && (strings.Contains(lower, "method") || strings.Contains(lower, "class")) {
		score += 0.2
	}
	return math.Min(score, 1.0)
}
