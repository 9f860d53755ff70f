package memorystore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anortham/codesearch-engine/internal/facet"
	"github.com/anortham/codesearch-engine/internal/indexstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	idx := indexstore.New()
	t.Cleanup(func() { _ = idx.Close() })
	dir := t.TempDir()
	return New(idx, filepath.Join(dir, "project"), filepath.Join(dir, "local"), facet.New(), nil)
}

func TestStoreAssignsIDAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	m := &Memory{Type: TypeBugReport, Content: "null pointer in parser", IsShared: true}

	ok, err := s.Store(context.Background(), m)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, m.ID)
	require.False(t, m.Created.IsZero())
	require.False(t, m.Modified.IsZero())
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.Store(context.Background(), &Memory{Type: TypeBugReport})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetByIDRoundTrips(t *testing.T) {
	s := newTestStore(t)
	m := &Memory{Type: TypeQuestion, Content: "where is auth handled", IsShared: false}
	_, err := s.Store(context.Background(), m)
	require.NoError(t, err)

	got, ok, err := s.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, m.Content, got.Content)
	require.Equal(t, m.Type, got.Type)
}

func TestUpdateAppliesFieldPatchAndFileLists(t *testing.T) {
	s := newTestStore(t)
	m := &Memory{Type: TypeTechnicalDebt, Content: "refactor the router", IsShared: true}
	m.SetField("priority", StringField("low"))
	_, err := s.Store(context.Background(), m)
	require.NoError(t, err)

	high := StringField("high")
	ok, err := s.Update(context.Background(), UpdateRequest{
		ID:           m.ID,
		FieldUpdates: map[string]*FieldValue{"priority": &high},
		AddFiles:     []string{"/repo/router.go"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err := s.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, "high", got.Priority())
	require.Contains(t, got.FilesInvolved, "/repo/router.go")
}

func TestUpdateDeletesFieldOnNilValue(t *testing.T) {
	s := newTestStore(t)
	m := &Memory{Type: TypeTechnicalDebt, Content: "drop this field", IsShared: true}
	m.SetField("priority", StringField("high"))
	_, err := s.Store(context.Background(), m)
	require.NoError(t, err)

	ok, err := s.Update(context.Background(), UpdateRequest{
		ID:           m.ID,
		FieldUpdates: map[string]*FieldValue{"priority": nil},
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err := s.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, "", got.Priority())
}

func TestArchiveFlipsArchivedFlagWithoutTouchingAccessCount(t *testing.T) {
	s := newTestStore(t)
	past := time.Now().Add(-48 * time.Hour)
	m := &Memory{Type: TypeTechnicalDebt, Content: "stale debt item", IsShared: true, Created: past}
	_, err := s.Store(context.Background(), m)
	require.NoError(t, err)

	n, err := s.Archive(context.Background(), TypeTechnicalDebt, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, _, err := s.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.True(t, got.IsArchived())
	require.Equal(t, 0, got.AccessCount)
}

func TestCleanupExpiredDeletesPastWorkingMemory(t *testing.T) {
	s := newTestStore(t)
	m := &Memory{Type: TypeWorkingMemory, Content: "scratch note", IsShared: false}
	m.SetField("expiresAt", StringField(time.Now().Add(-time.Hour).Format(time.RFC3339)))
	_, err := s.Store(context.Background(), m)
	require.NoError(t, err)

	n, err := s.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok, err := s.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSearchDefaultsToCreatedDescending(t *testing.T) {
	s := newTestStore(t)
	older := &Memory{Type: TypeBugReport, Content: "first bug report about crash", IsShared: true, Created: time.Now().Add(-time.Hour)}
	newer := &Memory{Type: TypeBugReport, Content: "second bug report about crash", IsShared: true, Created: time.Now()}
	_, err := s.Store(context.Background(), older)
	require.NoError(t, err)
	_, err = s.Store(context.Background(), newer)
	require.NoError(t, err)

	res, err := s.Search(context.Background(), SearchRequest{Query: "*", MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, res.Memories, 2)
	require.Equal(t, newer.ID, res.Memories[0].ID)
}

func TestSearchDoesNotObserveItsOwnAccessCountBump(t *testing.T) {
	s := newTestStore(t)
	m := &Memory{Type: TypeBugReport, Content: "crash in the parser", IsShared: true}
	_, err := s.Store(context.Background(), m)
	require.NoError(t, err)

	res, err := s.Search(context.Background(), SearchRequest{Query: "*", MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	require.Equal(t, 0, res.Memories[0].AccessCount, "a search must not see the access_count bump it itself causes")

	got, _, err := s.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.AccessCount, "the bump must still land on the stored record")
}

func TestSearchRejectsOverlongQuery(t *testing.T) {
	s := newTestStore(t)
	longQuery := make([]byte, MaxQueryLen+1)
	for i := range longQuery {
		longQuery[i] = 'a'
	}
	res, err := s.Search(context.Background(), SearchRequest{Query: string(longQuery), MaxResults: 10})
	require.NoError(t, err)
	require.Empty(t, res.Memories)
	require.NotEmpty(t, res.Warnings)
}

func TestSearchRejectsUnknownType(t *testing.T) {
	s := newTestStore(t)
	res, err := s.Search(context.Background(), SearchRequest{Query: "*", Types: []string{"NotARealType"}, MaxResults: 10})
	require.NoError(t, err)
	require.Empty(t, res.Memories)
	require.NotEmpty(t, res.Warnings)
}

func TestSearchExcludesArchivedByDefault(t *testing.T) {
	s := newTestStore(t)
	m := &Memory{Type: TypeBugReport, Content: "archived memory content", IsShared: true}
	_, err := s.Store(context.Background(), m)
	require.NoError(t, err)
	_, err = s.Archive(context.Background(), TypeBugReport, time.Now().Add(time.Hour))
	require.NoError(t, err)

	res, err := s.Search(context.Background(), SearchRequest{Query: "*", MaxResults: 10})
	require.NoError(t, err)
	require.Empty(t, res.Memories)

	res, err = s.Search(context.Background(), SearchRequest{Query: "*", MaxResults: 10, IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
}

func TestSimilarExcludesSourceMemory(t *testing.T) {
	s := newTestStore(t)
	src := &Memory{Type: TypeCodePattern, Content: "repository pattern for database access", IsShared: true}
	other := &Memory{Type: TypeCodePattern, Content: "repository pattern for database access layer", IsShared: true}
	_, err := s.Store(context.Background(), src)
	require.NoError(t, err)
	_, err = s.Store(context.Background(), other)
	require.NoError(t, err)

	results, err := s.Similar(context.Background(), src.ID, 5)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, src.ID, r.ID)
	}
}
