// Package indexing implements the engine's indexing pipeline:
// walking the data root's documents/ directory, extracting text,
// chunking, embedding, and committing everything through a single
// begin_batch/end_batch pair on the Retriever.
package indexing

import (
	"context"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"ragengine/internal/chunking"
	"ragengine/internal/embeddings"
	apperr "ragengine/internal/errors"
	"ragengine/internal/logging"
	"ragengine/internal/retriever"
	"ragengine/pkg/types"
)

// Retriever is the subset of *retriever.Retriever the pipeline drives.
type Retriever interface {
	BeginBatch() error
	IndexChunk(types.Chunk) error
	EndBatch() (docs, chunks int, err error)
}

var _ Retriever = (*retriever.Retriever)(nil)

// EmbedBatchSize bounds how many chunks are embedded per EmbedBatch call.
const EmbedBatchSize = 32

// FileStats is the per-file outcome the pipeline reports, used both for
// metrics emission and for the chunking snapshot.
type FileStats struct {
	DocID      string
	SourcePath string
	ChunkCount int
	Skipped    bool
	Err        error
}

// Result summarizes a full pipeline run.
type Result struct {
	Docs   int
	Chunks int
	Files  []FileStats
}

// Pipeline walks a documents root, chunks and embeds every eligible file,
// and commits the result through a single Retriever batch.
type Pipeline struct {
	documentsDir string
	chunker      *chunking.Service
	embedder     embeddings.Embedder
	extractor    ExternalExtractor
	retriever    Retriever
	logger       logging.Logger
}

// New constructs a Pipeline. extractor may be nil, in which case PDF
// files are skipped with a recorded error rather than attempted.
func New(documentsDir string, chunker *chunking.Service, embedder embeddings.Embedder, extractor ExternalExtractor, r Retriever, logger logging.Logger) *Pipeline {
	if extractor == nil {
		extractor = StubExtractor{}
	}
	return &Pipeline{
		documentsDir: documentsDir,
		chunker:      chunker,
		embedder:     embedder,
		extractor:    extractor,
		retriever:    r,
		logger:       logger,
	}
}

// Run executes the full pipeline: enumerate, extract, chunk, embed, and
// commit every document under the documents root in one batch, in
// deterministic file-order.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	paths, err := p.enumerate()
	if err != nil {
		return Result{}, apperr.Wrap(apperr.CodeIO, "enumerate documents directory", err)
	}

	if err := p.retriever.BeginBatch(); err != nil {
		return Result{}, err
	}

	var res Result
	committed := false
	defer func() {
		if !committed {
			// best effort: EndBatch with nothing staged is a no-op failure
			// mode we can't recover from here; the caller sees the error
			// that aborted the run.
			_, _, _ = p.retriever.EndBatch()
		}
	}()

	sink := func(c types.Chunk) error { return p.retriever.IndexChunk(c) }

	for _, relPath := range paths {
		stats := p.processFile(ctx, relPath, sink)
		res.Files = append(res.Files, stats)
		if stats.Err != nil {
			if p.logger != nil {
				p.logger.Warn("skipping document", "path", relPath, "error", stats.Err)
			}
			continue
		}
		if stats.Skipped {
			continue
		}
		res.Docs++
		res.Chunks += stats.ChunkCount
	}

	docs, chunks, err := p.retriever.EndBatch()
	if err != nil {
		return Result{}, err
	}
	committed = true
	if chunks > 0 {
		res.Chunks = chunks
	}
	if docs > 0 {
		res.Docs = docs
	}
	return res, nil
}

// Collect runs the same extract/chunk/embed walk as Run but sinks every
// produced chunk into a returned slice instead of writing through the
// Retriever's batch. The reindex handlers use this to assemble the
// source-of-truth chunk set for AtomicReindex, which performs its own
// full-generation commit rather than an incremental batch.
func (p *Pipeline) Collect(ctx context.Context) ([]types.Chunk, Result, error) {
	paths, err := p.enumerate()
	if err != nil {
		return nil, Result{}, apperr.Wrap(apperr.CodeIO, "enumerate documents directory", err)
	}

	var chunks []types.Chunk
	sink := func(c types.Chunk) error {
		chunks = append(chunks, c)
		return nil
	}

	var res Result
	for _, relPath := range paths {
		stats := p.processFile(ctx, relPath, sink)
		res.Files = append(res.Files, stats)
		if stats.Err != nil {
			if p.logger != nil {
				p.logger.Warn("skipping document", "path", relPath, "error", stats.Err)
			}
			continue
		}
		if stats.Skipped {
			continue
		}
		res.Docs++
		res.Chunks += stats.ChunkCount
	}
	return chunks, res, nil
}

// chunkSink receives one fully embedded chunk at a time, either staged
// into a live Retriever batch (Run) or appended to a slice (Collect).
type chunkSink func(types.Chunk) error

// processFile extracts, chunks, embeds, and indexes a single document. It
// never returns an error to the caller: per-file failures are recorded on
// the returned FileStats and the pipeline continues (a single bad
// document must not abort an entire reindex).
func (p *Pipeline) processFile(ctx context.Context, relPath string, sink chunkSink) FileStats {
	docID := StableHash(relPath)
	stats := FileStats{DocID: docID, SourcePath: relPath}

	ct, ok := classify(relPath)
	if !ok {
		stats.Skipped = true
		return stats
	}

	raw, err := os.ReadFile(filepath.Join(p.documentsDir, relPath))
	if err != nil {
		stats.Err = apperr.Wrap(apperr.CodeIO, "read document", err)
		return stats
	}

	var text string
	switch ct {
	case types.ContentTypePDF:
		text, err = p.extractor.Extract(ctx, raw)
		if err != nil {
			stats.Err = err
			return stats
		}
	default:
		text = string(raw)
	}

	chunks, err := p.chunker.Chunk(ctx, docID, text)
	if err != nil {
		stats.Err = err
		return stats
	}
	if len(chunks) == 0 {
		stats.Skipped = true
		return stats
	}

	if err := p.embedAndIndex(ctx, docID, chunks, sink); err != nil {
		stats.Err = err
		return stats
	}

	stats.ChunkCount = len(chunks)
	return stats
}

// embedAndIndex embeds chunks in batches of EmbedBatchSize and hands each
// one to sink.
func (p *Pipeline) embedAndIndex(ctx context.Context, docID string, chunks []types.Chunk, sink chunkSink) error {
	for start := 0; start < len(chunks); start += EmbedBatchSize {
		end := start + EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		group := chunks[start:end]

		texts := make([]string, len(group))
		for i, c := range group {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return apperr.Wrap(apperr.CodeBackend, "embed chunk batch", err)
		}
		if len(vectors) != len(group) {
			return apperr.Newf(apperr.CodeBackend, "embedder returned %d vectors for %d chunks", len(vectors), len(group))
		}

		for i, c := range group {
			c.ChunkID = chunkID(docID, c.Ordinal)
			c.Vector = vectors[i]
			if err := sink(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// enumerate walks the documents directory recursively and returns
// slash-separated relative paths in a deterministic (lexical) order.
func (p *Pipeline) enumerate() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(p.documentsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.documentsDir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func classify(relPath string) (types.ContentType, bool) {
	switch strings.ToLower(filepath.Ext(relPath)) {
	case ".txt", ".md", ".markdown":
		return types.ContentTypeText, true
	case ".pdf":
		return types.ContentTypePDF, true
	default:
		return "", false
	}
}

func chunkID(docID string, ordinal uint32) string {
	return docID + "#" + hex.EncodeToString([]byte{byte(ordinal >> 24), byte(ordinal >> 16), byte(ordinal >> 8), byte(ordinal)})
}

// StableHash derives a doc_id from a document's relative path: a
// deterministic 128-bit blake2b digest, hex-encoded. The same path
// always yields the same doc_id across process restarts, matching the
// pipeline's replace-on-re-upload semantics.
func StableHash(relPath string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(relPath))
	return hex.EncodeToString(h.Sum(nil))
}
