package retriever

import (
	"context"
	"sort"
	"time"

	apperr "ragengine/internal/errors"
	"ragengine/pkg/types"
)

// AtomicReindex is single-flight guarded: it builds a new
// index generation and vector map from source, commits both, snapshots
// vectors.json, and invalidates every cache tier. A failure before the
// index commit leaves the prior generation completely unchanged; a
// failure after the index commit but before the vector-store swap is
// reported as Inconsistent and must be surfaced by the caller as a
// readiness failure.
func (r *Retriever) AtomicReindex(ctx context.Context, chunks []types.Chunk, snapshotPath string) (types.ReindexStats, error) {
	if !r.reindexing.CompareAndSwap(false, true) {
		return types.ReindexStats{}, apperr.New(apperr.CodeBusy, "a reindex is already in progress")
	}
	defer r.reindexing.Store(false)

	start := time.Now()

	docs := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		docs[c.DocID] = struct{}{}
	}

	committedChunks, err := r.index.AtomicReindex(ctx, chunks)
	if err != nil {
		return types.ReindexStats{}, err
	}

	if err := r.swapVectors(chunks, snapshotPath); err != nil {
		if r.logger != nil {
			r.logger.Error("vector store swap failed after index commit; marking inconsistent", "error", err)
		}
		r.committed.Store(false)
		return types.ReindexStats{}, apperr.Wrap(apperr.CodeInconsistent, "vector store swap failed after index commit", err)
	}

	r.cache.Invalidate(ctx)
	r.MarkCommitted()

	stats := types.ReindexStats{
		Docs:       len(docs),
		Chunks:     committedChunks,
		Vectors:    r.vectors.Len(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if r.metrics != nil {
		r.metrics.ReindexTotal.WithLabelValues("succeeded").Inc()
		r.metrics.ReindexDurationMS.WithLabelValues("succeeded").Observe(float64(stats.DurationMS))
		r.metrics.DocumentsTotal.Set(float64(stats.Docs))
		r.metrics.ChunksTotal.Set(float64(stats.Chunks))
		r.metrics.VectorsTotal.Set(float64(stats.Vectors))
	}
	return stats, nil
}

func (r *Retriever) swapVectors(chunks []types.Chunk, snapshotPath string) error {
	if err := r.vectors.BeginBatch(); err != nil {
		return err
	}
	for _, c := range chunks {
		if err := r.vectors.StageUpsert(types.VectorRecord{ChunkID: c.ChunkID, DocID: c.DocID, Vector: c.Vector}); err != nil {
			r.vectors.DiscardBatch()
			return err
		}
	}
	if _, err := r.vectors.EndBatch(); err != nil {
		return err
	}
	if snapshotPath != "" {
		if err := r.vectors.SnapshotTo(snapshotPath); err != nil {
			return err
		}
	}
	return nil
}

// Rerank recomputes scores for a fixed candidate set against the query
// embedding and stable-sorts descending.
func (r *Retriever) Rerank(ctx context.Context, q string, candidateChunkIDs []string) ([]types.SearchHit, error) {
	if len(candidateChunkIDs) == 0 {
		return nil, nil
	}
	queryVec, err := r.embedder.Embed(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeBackend, "embed rerank query", err)
	}

	type scored struct {
		chunkID string
		docID   string
		score   float64
	}
	out := make([]scored, 0, len(candidateChunkIDs))
	for _, id := range candidateChunkIDs {
		rec, ok := r.vectors.Get(id)
		if !ok {
			continue
		}
		out = append(out, scored{chunkID: id, docID: rec.DocID, score: cosine(queryVec, rec.Vector)})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	results := make([]types.SearchHit, 0, len(out))
	for _, o := range out {
		results = append(results, types.SearchHit{ChunkID: o.chunkID, DocID: o.docID, Score: o.score})
	}
	return results, nil
}

// Metrics returns a point-in-time snapshot of the retriever's state.
func (r *Retriever) Metrics() Snapshot {
	last, _ := r.lastCommit.Load().(time.Time)
	total := r.cacheHits.Load() + r.cacheMisses.Load()
	var hitRate float64
	if total > 0 {
		hitRate = float64(r.cacheHits.Load()) / float64(total)
	}
	return Snapshot{
		Docs:           0,
		Chunks:         int(r.index.DocCount()),
		Vectors:        r.vectors.Len(),
		LastCommit:     last,
		CacheHitRateL1: hitRate,
	}
}

// Ready reports whether at least one successful commit has occurred.
func (r *Retriever) Ready() bool { return r.committed.Load() }
