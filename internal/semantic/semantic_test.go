package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder is a test double returning a fixed vector, or an error when
// failOn matches the requested text.
type mockEmbedder struct {
	vector []float32
	failOn string
	embeds int
}

func (e *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.embeds++
	if e.failOn != "" && text == e.failOn {
		return nil, errors.New("embed failed")
	}
	return e.vector, nil
}

// mockVectorIndex is an in-memory stand-in for VectorIndex.
type mockVectorIndex struct {
	items     map[string][]float32
	upsertErr error
	results   []Result
	searchErr error
}

func newMockVectorIndex() *mockVectorIndex {
	return &mockVectorIndex{items: make(map[string][]float32)}
}

func (v *mockVectorIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	if v.upsertErr != nil {
		return v.upsertErr
	}
	v.items[id] = vector
	return nil
}

func (v *mockVectorIndex) Delete(ctx context.Context, id string) error {
	delete(v.items, id)
	return nil
}

func (v *mockVectorIndex) Search(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Result, error) {
	if v.searchErr != nil {
		return nil, v.searchErr
	}
	return v.results, nil
}

// mockLookup resolves ids to content from a fixed map.
type mockLookup struct {
	content map[string]string
}

func (l *mockLookup) ContentByID(id string) (string, bool) {
	text, ok := l.content[id]
	return text, ok
}

func TestIndexSwallowsEmbedFailure(t *testing.T) {
	embedder := &mockEmbedder{vector: []float32{1, 0}, failOn: "bad text"}
	vecIdx := newMockVectorIndex()
	o := New(embedder, vecIdx, nil, nil)

	err := o.Index(context.Background(), Item{ID: "m1", Text: "bad text"})
	require.NoError(t, err, "embed failures must never fail the primary write")
	assert.Empty(t, vecIdx.items, "a failed embed should never reach Upsert")
}

func TestIndexSwallowsUpsertFailure(t *testing.T) {
	embedder := &mockEmbedder{vector: []float32{1, 0}}
	vecIdx := newMockVectorIndex()
	vecIdx.upsertErr = errors.New("disk full")
	o := New(embedder, vecIdx, nil, nil)

	err := o.Index(context.Background(), Item{ID: "m1", Text: "some content"})
	require.NoError(t, err, "upsert failures must never fail the primary write")
}

func TestIndexUpsertsOnSuccess(t *testing.T) {
	embedder := &mockEmbedder{vector: []float32{1, 0}}
	vecIdx := newMockVectorIndex()
	o := New(embedder, vecIdx, nil, nil)

	require.NoError(t, o.Index(context.Background(), Item{ID: "m1", Text: "some content"}))
	assert.Equal(t, []float32{1, 0}, vecIdx.items["m1"])
}

func TestSearchPropagatesEmbedError(t *testing.T) {
	embedder := &mockEmbedder{vector: []float32{1, 0}, failOn: "bad query"}
	vecIdx := newMockVectorIndex()
	o := New(embedder, vecIdx, nil, nil)

	_, err := o.Search(context.Background(), "bad query", 5, nil, 0)
	require.Error(t, err, "unlike Index, Search has no primary write to protect and must propagate errors")
}

func TestSearchFiltersByThreshold(t *testing.T) {
	embedder := &mockEmbedder{vector: []float32{1, 0}}
	vecIdx := newMockVectorIndex()
	vecIdx.results = []Result{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.3}}
	o := New(embedder, vecIdx, nil, nil)

	results, err := o.Search(context.Background(), "query", 5, nil, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestFindSimilarExcludesSelf(t *testing.T) {
	embedder := &mockEmbedder{vector: []float32{1, 0}}
	vecIdx := newMockVectorIndex()
	vecIdx.results = []Result{{ID: "m1", Score: 1.0}, {ID: "m2", Score: 0.8}}
	lookup := &mockLookup{content: map[string]string{"m1": "original content"}}
	o := New(embedder, vecIdx, lookup, nil)

	results, err := o.FindSimilar(context.Background(), "m1", 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1, "the source memory must never appear in its own similar-results list")
	assert.Equal(t, "m2", results[0].ID)
}

func TestFindSimilarUnknownIDReturnsNil(t *testing.T) {
	embedder := &mockEmbedder{vector: []float32{1, 0}}
	vecIdx := newMockVectorIndex()
	lookup := &mockLookup{content: map[string]string{}}
	o := New(embedder, vecIdx, lookup, nil)

	results, err := o.FindSimilar(context.Background(), "missing", 5, 0)
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, embedder.embeds, "an unresolved id must never trigger an embed call")
}
