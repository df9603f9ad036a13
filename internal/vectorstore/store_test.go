package vectorstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "ragengine/internal/errors"
	"ragengine/pkg/types"
)

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	s := New(3)
	err := s.Upsert(types.VectorRecord{ChunkID: "c1", DocID: "d1", Vector: []float32{1, 2}})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestUpsertAndGet(t *testing.T) {
	s := New(3)
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "c1", DocID: "d1", Vector: []float32{1, 0, 0}}))
	rec, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "d1", rec.DocID)
}

func TestRemoveByDoc(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "c1", DocID: "d1", Vector: []float32{1, 0}}))
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "c2", DocID: "d1", Vector: []float32{0, 1}}))
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "c3", DocID: "d2", Vector: []float32{1, 1}}))

	s.RemoveByDoc("d1")
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("c3")
	assert.True(t, ok)
}

func TestSearchTopKOrdersByScoreThenChunkID(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "b", DocID: "d1", Vector: []float32{1, 0}}))
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "a", DocID: "d1", Vector: []float32{1, 0}}))
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "c", DocID: "d1", Vector: []float32{0, 1}}))

	results, err := s.SearchTopK([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// "a" and "b" tie at score 1.0; ascending chunk_id breaks the tie.
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "b", results[1].ChunkID)
}

func TestSearchTopKRejectsDimensionMismatch(t *testing.T) {
	s := New(3)
	_, err := s.SearchTopK([]float32{1, 0}, 1)
	require.Error(t, err)
}

func TestBatchReplacesLiveMapAtomically(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "old", DocID: "d1", Vector: []float32{1, 0}}))

	require.NoError(t, s.BeginBatch())
	require.NoError(t, s.StageUpsert(types.VectorRecord{ChunkID: "new", DocID: "d1", Vector: []float32{0, 1}}))

	// Live map unaffected until EndBatch.
	_, ok := s.Get("new")
	assert.False(t, ok)

	n, err := s.EndBatch()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok = s.Get("old")
	assert.False(t, ok)
	_, ok = s.Get("new")
	assert.True(t, ok)
}

func TestEndBatchWithoutBeginBatchFails(t *testing.T) {
	s := New(2)
	_, err := s.EndBatch()
	require.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.json")

	s := New(2)
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "c1", DocID: "d1", Vector: []float32{0.5, 0.5}}))
	require.NoError(t, s.SnapshotTo(path))

	loaded := New(2)
	require.NoError(t, loaded.LoadFrom(path))
	assert.Equal(t, 1, loaded.Len())
	rec, ok := loaded.Get("c1")
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.5}, rec.Vector)

	// No temp file left behind.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadFromRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.json")

	s := New(3)
	require.NoError(t, s.Upsert(types.VectorRecord{ChunkID: "c1", DocID: "d1", Vector: []float32{1, 2, 3}}))
	require.NoError(t, s.SnapshotTo(path))

	loaded := New(2)
	err := loaded.LoadFrom(path)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInconsistent, apperr.CodeOf(err))
}

func TestLoadFromMissingFileIsNotAnError(t *testing.T) {
	s := New(2)
	err := s.LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}
