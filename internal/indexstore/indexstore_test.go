package indexstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/require"
)

func TestAddCommitAndSearchRoundTrip(t *testing.T) {
	store := New()
	defer store.Close()

	path := filepath.Join(t.TempDir(), "ws1")
	w, err := store.Writer(path)
	require.NoError(t, err)

	require.NoError(t, w.Add(&Document{Path: "/ws/a.txt", Filename: "a.txt", Content: "hello world foo"}))
	require.NoError(t, w.Commit(context.Background()))

	s, err := store.Searcher(path)
	require.NoError(t, err)

	q := bleve.NewMatchQuery("foo")
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	res, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, int(res.Total))
}

func TestUpdateReplacesExistingDocument(t *testing.T) {
	store := New()
	defer store.Close()

	path := filepath.Join(t.TempDir(), "ws1")
	w, err := store.Writer(path)
	require.NoError(t, err)

	require.NoError(t, w.Add(&Document{Path: "/ws/a.txt", Content: "hello"}))
	require.NoError(t, w.Commit(context.Background()))

	require.NoError(t, w.Update("/ws/a.txt", &Document{Path: "/ws/a.txt", Content: "goodbye"}))
	require.NoError(t, w.Commit(context.Background()))

	s, err := store.Searcher(path)
	require.NoError(t, err)
	n, err := s.DocCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestDeleteByTermRemovesDocument(t *testing.T) {
	store := New()
	defer store.Close()

	path := filepath.Join(t.TempDir(), "ws1")
	w, err := store.Writer(path)
	require.NoError(t, err)

	require.NoError(t, w.Add(&Document{Path: "/ws/a.txt", Content: "hello"}))
	require.NoError(t, w.Commit(context.Background()))
	require.NoError(t, w.DeleteByTerm("/ws/a.txt"))
	require.NoError(t, w.Commit(context.Background()))

	s, err := store.Searcher(path)
	require.NoError(t, err)
	n, err := s.DocCount()
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}

func TestOpenRecoversFromCorruptIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws1")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte(""), 0o644))

	store := New()
	defer store.Close()
	w, err := store.Writer(path)
	require.NoError(t, err)
	require.NoError(t, w.Add(&Document{Path: "/ws/a.txt", Content: "recovered"}))
	require.NoError(t, w.Commit(context.Background()))
}

func TestSecondWriterReusesOpenIndex(t *testing.T) {
	store := New()
	defer store.Close()
	path := filepath.Join(t.TempDir(), "ws1")

	_, err := store.Writer(path)
	require.NoError(t, err)

	// Same Store instance reuses the cached workspaceIndex rather than
	// re-acquiring the OS lock, matching the "one writer per workspace
	// process-wide" contract.
	_, err = store.Writer(path)
	require.NoError(t, err)
}

func TestTokenizeCodeSplitsIdentifiers(t *testing.T) {
	tokens := TokenizeCode("getUserByID parseHTTPRequest snake_case_name")
	require.Contains(t, tokens, "get")
	require.Contains(t, tokens, "user")
	require.Contains(t, tokens, "by")
	require.Contains(t, tokens, "http")
	require.Contains(t, tokens, "snake")
	require.Contains(t, tokens, "case")
}
