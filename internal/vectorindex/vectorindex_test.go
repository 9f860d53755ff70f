package vectorindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexUpsertAndSearch(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{0, 1, 0, 0}, nil))
	require.NoError(t, idx.Upsert(ctx, "c", []float32{0.9, 0.1, 0, 0}, nil))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, float32(0.99))
}

func TestIndexDelete(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{0, 1, 0, 0}, nil))
	require.NoError(t, idx.Delete(ctx, "a"))

	assert.Equal(t, 1, idx.Count())
	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestIndexUpsertReplacesExisting(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, idx.Upsert(ctx, "a", []float32{0, 0, 1, 0}, nil))
	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search(ctx, []float32{0, 0, 1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestIndexSearchFiltersByMetadata(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0, 0}, map[string]string{"type": "BugReport"}))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{0.95, 0.05, 0, 0}, map[string]string{"type": "Question"}))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5, map[string]string{"type": "Question"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestIndexDimensionMismatch(t *testing.T) {
	idx := New(Config{Dimensions: 4})
	defer idx.Close()
	err := idx.Upsert(context.Background(), "a", []float32{1, 0, 0}, nil)
	require.ErrorAs(t, err, &DimensionMismatchError{})
}

func TestIndexSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	idx := New(Config{Dimensions: 4})
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0, 0, 0}, map[string]string{"type": "BugReport"}))
	require.NoError(t, idx.Upsert(ctx, "b", []float32{0, 1, 0, 0}, nil))
	require.NoError(t, idx.Save(path))

	_, err := os.Stat(path + ".meta")
	require.NoError(t, err)

	loaded := New(Config{Dimensions: 4})
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.Count())

	results, err := loaded.Search(ctx, []float32{1, 0, 0, 0}, 1, map[string]string{"type": "BugReport"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}
