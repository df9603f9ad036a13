package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragengine/pkg/types"
)

func TestBatchIndexAndSearch(t *testing.T) {
	svc, err := NewService("")
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.BeginBatch())
	require.NoError(t, svc.IndexChunk(types.Chunk{ChunkID: "c1", DocID: "d1", Text: "the quick brown fox jumps"}))
	require.NoError(t, svc.IndexChunk(types.Chunk{ChunkID: "c2", DocID: "d1", Text: "a completely unrelated sentence"}))
	n, err := svc.EndBatch()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := svc.Search(context.Background(), "quick fox", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "d1", hits[0].DocID)
}

func TestIndexChunkOutsideBatchFails(t *testing.T) {
	svc, err := NewService("")
	require.NoError(t, err)
	defer svc.Close()

	err = svc.IndexChunk(types.Chunk{ChunkID: "c1", DocID: "d1", Text: "x"})
	require.Error(t, err)
}

func TestBeginBatchTwiceFails(t *testing.T) {
	svc, err := NewService("")
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.BeginBatch())
	err = svc.BeginBatch()
	require.Error(t, err)
}

func TestDeleteByDocRemovesAllItsChunks(t *testing.T) {
	svc, err := NewService("")
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.BeginBatch())
	require.NoError(t, svc.IndexChunk(types.Chunk{ChunkID: "c1", DocID: "d1", Text: "alpha"}))
	require.NoError(t, svc.IndexChunk(types.Chunk{ChunkID: "c2", DocID: "d2", Text: "beta"}))
	_, err = svc.EndBatch()
	require.NoError(t, err)

	require.NoError(t, svc.DeleteByDoc(context.Background(), "d1"))
	assert.Equal(t, uint64(1), svc.DocCount())
}

func TestAtomicReindexReplacesContents(t *testing.T) {
	svc, err := NewService("")
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.BeginBatch())
	require.NoError(t, svc.IndexChunk(types.Chunk{ChunkID: "old", DocID: "d1", Text: "stale content"}))
	_, err = svc.EndBatch()
	require.NoError(t, err)

	n, err := svc.AtomicReindex(context.Background(), []types.Chunk{
		{ChunkID: "new1", DocID: "d2", Text: "fresh content one"},
		{ChunkID: "new2", DocID: "d2", Text: "fresh content two"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(2), svc.DocCount())

	hits, err := svc.Search(context.Background(), "stale", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchEmptyQueryReturnsNoHits(t *testing.T) {
	svc, err := NewService("")
	require.NoError(t, err)
	defer svc.Close()

	hits, err := svc.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
