// Package index wraps a bleve full-text index as the engine's Inverted
// Index Adapter: a batched writer plus an immutable searcher over the
// schema {doc_id, chunk_id, text}, with BM25 scoring built in.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	apperr "ragengine/internal/errors"
	"ragengine/pkg/types"
)

// entry is the document shape bleve actually indexes; chunk_id doubles as
// the bleve document ID so lookups and deletes are O(1).
type entry struct {
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
}

// Hit is one lexical match, carrying enough of the original chunk to
// build an excerpt and to feed the hybrid-score combination step.
type Hit struct {
	ChunkID      string
	DocID        string
	Text         string
	Score        float64
	MatchedTerms []string
}

// Service owns the live bleve index and the on-disk directory it is
// rooted at (empty for a purely in-memory index). A fresh generation is
// built in a sibling directory and swapped in atomically by
// AtomicReindex; incremental single-document writes go through
// BeginBatch/IndexChunk/EndBatch instead.
type Service struct {
	mu  sync.RWMutex
	idx bleve.Index
	dir string // "" when index_in_ram is set

	batchMu sync.Mutex
	batch   *bleve.Batch
	batchN  int
	batching bool
}

// NewService opens the index at dir, creating it if absent. An empty dir
// builds a memory-only index (used when DATA config sets index_in_ram).
func NewService(dir string) (*Service, error) {
	idx, err := openOrCreate(dir)
	if err != nil {
		return nil, err
	}
	return &Service{idx: idx, dir: dir}, nil
}

func openOrCreate(dir string) (bleve.Index, error) {
	if dir == "" {
		idx, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeBackend, "create in-memory index", err)
		}
		return idx, nil
	}

	idx, err := bleve.Open(dir)
	switch {
	case err == nil:
		return idx, nil
	case err == bleve.ErrorIndexPathDoesNotExist:
		if mkErr := os.MkdirAll(filepath.Dir(dir), 0o755); mkErr != nil {
			return nil, apperr.Wrap(apperr.CodeIO, "create index parent directory", mkErr)
		}
		idx, err = bleve.New(dir, buildMapping())
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeBackend, "create index", err)
		}
		return idx, nil
	default:
		return nil, apperr.Wrap(apperr.CodeBackend, "open index", err)
	}
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Store = true
	textField.IncludeInAll = true
	docMapping.AddFieldMappingsAt("text", textField)

	docIDField := bleve.NewTextFieldMapping()
	docIDField.Store = true
	docIDField.Index = true
	docIDField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("doc_id", docIDField)

	im.DefaultMapping = docMapping
	return im
}

// DocCount returns the number of chunks currently committed and visible
// to readers.
func (s *Service) DocCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, _ := s.idx.DocCount()
	return n
}

// BeginBatch opens an incremental write batch. Only one batch may be open
// at a time.
func (s *Service) BeginBatch() error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if s.batching {
		return apperr.New(apperr.CodeBusy, "index batch already in progress")
	}
	s.mu.RLock()
	s.batch = s.idx.NewBatch()
	s.mu.RUnlock()
	s.batchN = 0
	s.batching = true
	return nil
}

// IndexChunk stages a single chunk into the open batch. Valid only
// between BeginBatch and EndBatch.
func (s *Service) IndexChunk(c types.Chunk) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if !s.batching {
		return apperr.New(apperr.CodeInvalidInput, "index_chunk called outside a batch")
	}
	if err := s.batch.Index(c.ChunkID, entry{DocID: c.DocID, Text: c.Text}); err != nil {
		return apperr.Wrap(apperr.CodeBackend, "stage chunk for indexing", err)
	}
	s.batchN++
	return nil
}

// EndBatch commits the staged batch in a single write and returns the
// number of chunks committed.
func (s *Service) EndBatch() (int, error) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if !s.batching {
		return 0, apperr.New(apperr.CodeInvalidInput, "end_batch called without begin_batch")
	}
	batch := s.batch
	n := s.batchN
	s.batch = nil
	s.batchN = 0
	s.batching = false

	s.mu.RLock()
	err := s.idx.Batch(batch)
	s.mu.RUnlock()
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeBackend, "commit index batch", err)
	}
	return n, nil
}

// DeleteByDoc removes every indexed chunk belonging to docID.
func (s *Service) DeleteByDoc(ctx context.Context, docID string) error {
	ids, err := s.idsForDoc(ctx, docID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	batch := s.idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := s.idx.Batch(batch); err != nil {
		return apperr.Wrap(apperr.CodeBackend, "delete document chunks from index", err)
	}
	return nil
}

func (s *Service) idsForDoc(ctx context.Context, docID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := bleve.NewMatchQuery(docID)
	q.SetField("doc_id")
	req := bleve.NewSearchRequest(q)
	req.Size = 1 << 20

	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeBackend, "search for document chunks", err)
	}
	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids, nil
}

// Search runs a BM25 match query over the text field and returns up to
// limit hits ordered by descending score.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mq := bleve.NewMatchQuery(query)
	mq.SetField("text")
	req := bleve.NewSearchRequest(mq)
	req.Size = limit
	req.Fields = []string{"text", "doc_id"}
	req.IncludeLocations = true

	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeBackend, "lexical search", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		text, _ := h.Fields["text"].(string)
		docID, _ := h.Fields["doc_id"].(string)
		hits = append(hits, Hit{
			ChunkID:      h.ID,
			DocID:        docID,
			Text:         text,
			Score:        h.Score,
			MatchedTerms: matchedTerms(h),
		})
	}
	return hits, nil
}

func matchedTerms(h *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range h.Locations {
		if field != "text" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	return terms
}

// Close releases the underlying bleve index.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == nil {
		return nil
	}
	err := s.idx.Close()
	s.idx = nil
	return err
}

// AtomicReindex builds an entirely new index generation from chunks in a
// sibling directory, commits it, then swaps it in as the live index and
// removes the old generation. On any failure before the swap the live
// index is untouched; the caller is
// responsible for the single-flight guard and for the vector-store half
// of the swap.
func (s *Service) AtomicReindex(ctx context.Context, chunks []types.Chunk) (int, error) {
	newDir := ""
	if s.dir != "" {
		newDir = fmt.Sprintf("%s-%d", s.dir, time.Now().UnixNano())
	}

	fresh, err := openOrCreate(newDir)
	if err != nil {
		return 0, err
	}

	const batchSize = 500
	batch := fresh.NewBatch()
	committed := 0
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			_ = fresh.Close()
			cleanupDir(newDir)
			return 0, apperr.Wrap(apperr.CodeBackend, "reindex canceled", err)
		}
		if err := batch.Index(c.ChunkID, entry{DocID: c.DocID, Text: c.Text}); err != nil {
			_ = fresh.Close()
			cleanupDir(newDir)
			return 0, apperr.Wrap(apperr.CodeBackend, "stage chunk during reindex", err)
		}
		committed++
		if (i+1)%batchSize == 0 {
			if err := fresh.Batch(batch); err != nil {
				_ = fresh.Close()
				cleanupDir(newDir)
				return 0, apperr.Wrap(apperr.CodeBackend, "commit reindex batch", err)
			}
			batch = fresh.NewBatch()
		}
	}
	if err := fresh.Batch(batch); err != nil {
		_ = fresh.Close()
		cleanupDir(newDir)
		return 0, apperr.Wrap(apperr.CodeBackend, "commit final reindex batch", err)
	}

	s.mu.Lock()
	old := s.idx
	oldDir := s.dir
	s.idx = fresh
	s.dir = newDir
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	cleanupDir(oldDir)

	return committed, nil
}

func cleanupDir(dir string) {
	if dir == "" {
		return
	}
	_ = os.RemoveAll(dir)
}
