package facet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuggestionsDiscriminatingFacet(t *testing.T) {
	s := New()
	snap := &Snapshot{
		Total: 100,
		Counts: map[string]map[string]int{
			"priority": {"high": 35, "low": 65},
			"status":   {"pending": 90, "resolved": 10},
		},
	}
	suggestions := s.Suggestions(snap, "", map[string]string{}, 5)
	require.NotEmpty(t, suggestions)
	found := false
	for _, sg := range suggestions {
		if sg.Dimension == "priority" && sg.Value == "high" {
			found = true
		}
	}
	require.True(t, found, "expected priority=high to be suggested as discriminating (35%% share)")
}

func TestSuggestionsQueryContext(t *testing.T) {
	s := New()
	snap := &Snapshot{Total: 10, Counts: map[string]map[string]int{}}
	suggestions := s.Suggestions(snap, "where is authentication handled", map[string]string{"type": "SecurityRule"}, 5)
	var gotCategory bool
	for _, sg := range suggestions {
		if sg.Dimension == "category" && sg.Value == "Backend/Security" {
			gotCategory = true
		}
	}
	require.True(t, gotCategory)
}

func TestSuggestionsPopularCombination(t *testing.T) {
	s := New()
	snap := &Snapshot{Total: 10, Counts: map[string]map[string]int{}}
	suggestions := s.Suggestions(snap, "", map[string]string{"type": "TechnicalDebt"}, 5)
	require.Contains(t, suggestions, Suggestion{Dimension: "priority", Value: "high", Reason: "popular combination with TechnicalDebt"})
}

func TestSuggestionsCappedAtMax(t *testing.T) {
	s := New()
	snap := &Snapshot{
		Total: 100,
		Counts: map[string]map[string]int{
			"priority":  {"high": 35, "medium": 40, "low": 25},
			"status":    {"pending": 40, "resolved": 60},
			"category":  {"Backend": 30, "Frontend": 70},
			"type":      {"BugReport": 50, "Question": 50},
			"is_shared": {"true": 40, "false": 60},
		},
	}
	suggestions := s.Suggestions(snap, "", map[string]string{}, 2)
	require.Len(t, suggestions, 2)
}

func TestInvalidateDropsOnlyMatchingWorkspace(t *testing.T) {
	s := New()
	s.cache["ws1\x00q\x000"] = cacheEntry{snap: &Snapshot{}}
	s.cache["ws2\x00q\x000"] = cacheEntry{snap: &Snapshot{}}
	s.Invalidate("ws1")
	_, ok1 := s.cache["ws1\x00q\x000"]
	_, ok2 := s.cache["ws2\x00q\x000"]
	require.False(t, ok1)
	require.True(t, ok2)
}
