// Package retriever is the engine's core orchestrator: it composes the
// inverted index, vector store, cache tiers, and embedder into the
// search/rerank/index_chunk/atomic_reindex surface the HTTP handlers
// call. Lexical and vector candidate gathering fan out concurrently.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ragengine/internal/cache"
	"ragengine/internal/embeddings"
	apperr "ragengine/internal/errors"
	"ragengine/internal/index"
	"ragengine/internal/logging"
	"ragengine/internal/metrics"
	"ragengine/internal/vectorstore"
	"ragengine/pkg/types"
)

// Options configure a single Search call.
type Options struct {
	TopK   int
	Mode   types.SearchMode
	Rerank bool
}

// Snapshot is the point-in-time state metrics() exposes.
type Snapshot struct {
	Docs           int
	Chunks         int
	Vectors        int
	LastCommit     time.Time
	CacheHitRateL1 float64
}

// Retriever orchestrates the inverted index, vector store, and cache
// tiers behind a single search/rerank/batch surface.
type Retriever struct {
	index    *index.Service
	vectors  *vectorstore.Store
	cache    *cache.Tiers
	embedder embeddings.Embedder
	metrics  *metrics.Registry
	logger   logging.Logger

	alpha float64

	committed atomic.Bool
	reindexing atomic.Bool

	lastCommit atomic.Value // time.Time

	batchMu  sync.Mutex
	batching bool

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// New constructs a Retriever over already-built collaborators.
func New(idx *index.Service, vectors *vectorstore.Store, tiers *cache.Tiers, embedder embeddings.Embedder, reg *metrics.Registry, logger logging.Logger, alpha float64) *Retriever {
	if alpha <= 0 && alpha != 0 {
		alpha = 0.5
	}
	r := &Retriever{
		index:    idx,
		vectors:  vectors,
		cache:    tiers,
		embedder: embedder,
		metrics:  reg,
		logger:   logger,
		alpha:    alpha,
	}
	r.lastCommit.Store(time.Time{})
	return r
}

// MarkCommitted flags the retriever as having at least one successful
// commit, used to distinguish a cold-start NotReady from a genuinely
// empty index. Called once after the initial indexing pipeline run or
// after LoadFrom restores a prior snapshot.
func (r *Retriever) MarkCommitted() {
	r.committed.Store(true)
	r.lastCommit.Store(time.Now())
}

// BeginBatch opens a paired index+vector-store batch. Calling it twice
// without an intervening EndBatch fails with CodeBusy.
func (r *Retriever) BeginBatch() error {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	if r.batching {
		return apperr.New(apperr.CodeBusy, "retriever batch already in progress")
	}
	if err := r.index.BeginBatch(); err != nil {
		return err
	}
	if err := r.vectors.BeginBatch(); err != nil {
		return err
	}
	r.batching = true
	return nil
}

// IndexChunk writes chunk into both the inverted index batch and the
// vector store's staging buffer. Valid only inside an open batch.
func (r *Retriever) IndexChunk(c types.Chunk) error {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	if !r.batching {
		return apperr.New(apperr.CodeInvalidInput, "index_chunk called outside a batch")
	}
	if err := r.index.IndexChunk(c); err != nil {
		return err
	}
	if err := r.vectors.StageUpsert(types.VectorRecord{ChunkID: c.ChunkID, DocID: c.DocID, Vector: c.Vector}); err != nil {
		return err
	}
	return nil
}

// EndBatch commits both the index batch and the vector-store staging
// buffer, in that order, and reports the commit as complete.
func (r *Retriever) EndBatch() (docs, chunks int, err error) {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	if !r.batching {
		return 0, 0, apperr.New(apperr.CodeInvalidInput, "end_batch called without begin_batch")
	}
	r.batching = false

	n, err := r.index.EndBatch()
	if err != nil {
		r.vectors.DiscardBatch()
		return 0, 0, err
	}
	if _, err := r.vectors.EndBatch(); err != nil {
		return 0, 0, err
	}
	r.MarkCommitted()
	return 0, n, nil
}

// DeleteDocument removes every chunk and vector belonging to docID from
// the live index and vector store and invalidates the cache tiers, so a
// deleted document stops appearing in search results immediately rather
// than only after the next reindex.
func (r *Retriever) DeleteDocument(ctx context.Context, docID string) error {
	if err := r.index.DeleteByDoc(ctx, docID); err != nil {
		return err
	}
	r.vectors.RemoveByDoc(docID)
	r.cache.Invalidate(ctx)
	return nil
}

// Search executes a lexical, vector, or hybrid query, consulting the
// cache tiers first and writing results back on a miss.
func (r *Retriever) Search(ctx context.Context, q string, opts Options) (types.SearchResult, error) {
	start := time.Now()

	if strings.TrimSpace(q) == "" {
		return types.SearchResult{}, apperr.New(apperr.CodeInvalidInput, "query must not be empty")
	}
	if !r.committed.Load() {
		return types.SearchResult{}, apperr.New(apperr.CodeNotReady, "no successful index commit yet")
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.Mode == "" {
		opts.Mode = types.ModeHybrid
	}

	fp := cache.Fingerprint(fingerprintKey(opts.Mode, q, opts.TopK, opts.Rerank, r.alpha))
	if entry, ok := r.cache.Get(ctx, fp); ok {
		r.cacheHits.Add(1)
		if r.metrics != nil {
			r.metrics.CacheHitsTotal.WithLabelValues("l1").Inc()
		}
		return types.SearchResult{Results: entry.Results, TookMS: time.Since(start).Milliseconds(), CacheHit: true}, nil
	}
	r.cacheMisses.Add(1)
	if r.metrics != nil {
		r.metrics.CacheMissesTotal.WithLabelValues("l1").Inc()
	}

	hits, err := r.execute(ctx, q, opts)
	if err != nil {
		return types.SearchResult{}, err
	}

	r.cache.Put(ctx, fp, types.QueryCacheEntry{
		Fingerprint: fp,
		Results:     hits,
		CreatedAt:   time.Now(),
		TTL:         time.Minute,
	})

	return types.SearchResult{Results: hits, TookMS: time.Since(start).Milliseconds(), CacheHit: false}, nil
}

// execute runs the hybrid scoring algorithm: fetch lexical candidates,
// optionally fetch query-vector similarity concurrently, combine, sort,
// and build excerpts.
func (r *Retriever) execute(ctx context.Context, q string, opts Options) ([]types.SearchHit, error) {
	limit := opts.TopK * 4
	if limit < 32 {
		limit = 32
	}

	var lexHits []index.Hit
	var queryVec []float32
	var vecScores map[string]float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := r.index.Search(gctx, q, limit)
		if err != nil {
			return apperr.Wrap(apperr.CodeBackend, "lexical search", err)
		}
		lexHits = h
		return nil
	})

	if opts.Mode != types.ModeLexical {
		g.Go(func() error {
			v, err := r.embedder.Embed(gctx, q)
			if err != nil {
				return apperr.Wrap(apperr.CodeBackend, "embed query", err)
			}
			queryVec = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if opts.Mode == types.ModeVector {
		top, err := r.vectors.SearchTopK(queryVec, opts.TopK)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeBackend, "vector search", err)
		}
		return buildHitsFromVector(top, q), nil
	}

	if opts.Mode == types.ModeHybrid && queryVec != nil {
		vecScores = make(map[string]float64, len(lexHits))
		for _, h := range lexHits {
			rec, ok := r.vectors.Get(h.ChunkID)
			if !ok {
				continue
			}
			vecScores[h.ChunkID] = cosine(queryVec, rec.Vector)
		}
	}

	return r.combine(lexHits, vecScores, q, opts), nil
}

func buildHitsFromVector(top []vectorstore.ScoredVector, q string) []types.SearchHit {
	hits := make([]types.SearchHit, 0, len(top))
	for _, t := range top {
		hits = append(hits, types.SearchHit{ChunkID: t.ChunkID, DocID: t.DocID, Score: t.Score})
	}
	return hits
}

// combine is the score-combination step: min-max normalize
// BM25, linearly blend with cosine via alpha, stable-sort descending
// with ascending chunk_id tie-break, and attach excerpts/highlights.
func (r *Retriever) combine(lexHits []index.Hit, vecScores map[string]float64, q string, opts Options) []types.SearchHit {
	if len(lexHits) == 0 {
		return nil
	}

	minBM25, maxBM25 := lexHits[0].Score, lexHits[0].Score
	for _, h := range lexHits {
		if h.Score < minBM25 {
			minBM25 = h.Score
		}
		if h.Score > maxBM25 {
			maxBM25 = h.Score
		}
	}

	type scored struct {
		hit   index.Hit
		score float64
	}
	out := make([]scored, 0, len(lexHits))
	for _, h := range lexHits {
		bm25Norm := normalize(h.Score, minBM25, maxBM25)
		score := bm25Norm
		if vecScores != nil {
			vecScore := vecScores[h.ChunkID]
			score = r.alpha*bm25Norm + (1-r.alpha)*vecScore
		}
		out = append(out, scored{hit: h, score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].hit.ChunkID < out[j].hit.ChunkID
	})

	if opts.TopK < len(out) {
		out = out[:opts.TopK]
	}

	results := make([]types.SearchHit, 0, len(out))
	for _, o := range out {
		excerpt, highlights := buildExcerpt(o.hit.Text, q)
		results = append(results, types.SearchHit{
			ChunkID:    o.hit.ChunkID,
			DocID:      o.hit.DocID,
			Score:      o.score,
			Excerpt:    excerpt,
			Highlights: highlights,
		})
	}
	return results
}

func normalize(v, min, max float64) float64 {
	if max == min {
		return 1
	}
	return (v - min) / (max - min)
}

// buildExcerpt returns the 240-character window centered on the first
// case-insensitive match of any query term, plus the matched terms.
func buildExcerpt(text, q string) (string, []string) {
	const window = 240
	terms := strings.Fields(q)
	lowerText := strings.ToLower(text)

	best := -1
	var matched []string
	for _, term := range terms {
		idx := strings.Index(lowerText, strings.ToLower(term))
		if idx >= 0 {
			matched = append(matched, term)
			if best == -1 || idx < best {
				best = idx
			}
		}
	}
	if best == -1 {
		if len(text) <= window {
			return text, nil
		}
		return text[:window], nil
	}

	half := window / 2
	start := best - half
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(text) {
		end = len(text)
		start = end - window
		if start < 0 {
			start = 0
		}
	}
	return text[start:end], matched
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func fingerprintKey(mode types.SearchMode, q string, topK int, rerank bool, alpha float64) string {
	norm := strings.ToLower(strings.Join(strings.Fields(q), " "))
	return fmt.Sprintf("mode=%s&q=%s&top_k=%d&rerank=%t&alpha=%.2f", mode, norm, topK, rerank, alpha)
}
