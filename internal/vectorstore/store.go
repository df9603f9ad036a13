// Package vectorstore holds the in-memory chunk_id -> VectorRecord map
// that backs vector and hybrid search, plus its on-disk snapshot.
package vectorstore

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	apperr "ragengine/internal/errors"
	"ragengine/pkg/types"
)

// Store is a concurrency-safe, brute-force vector index with a single
// JSON snapshot as its persistence format. The zero value is not usable;
// construct with New.
type Store struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]types.VectorRecord

	stagingMu sync.Mutex
	staging   map[string]types.VectorRecord
	batching  bool
}

// New constructs an empty Store fixed to the given vector dimension.
func New(dimension int) *Store {
	return &Store{
		dimension: dimension,
		records:   make(map[string]types.VectorRecord),
	}
}

// Dimension returns the store's fixed vector width.
func (s *Store) Dimension() int { return s.dimension }

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Upsert inserts or replaces a single vector record, rejecting any vector
// whose length does not match the store's configured dimension.
func (s *Store) Upsert(rec types.VectorRecord) error {
	if len(rec.Vector) != s.dimension {
		return apperr.Newf(apperr.CodeInvalidInput, "vector dimension %d does not match store dimension %d", len(rec.Vector), s.dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ChunkID] = rec
	return nil
}

// RemoveByDoc deletes every record belonging to docID.
func (s *Store) RemoveByDoc(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if rec.DocID == docID {
			delete(s.records, id)
		}
	}
}

// ScoredVector is one result of a top-k similarity search.
type ScoredVector struct {
	ChunkID string
	DocID   string
	Score   float64
}

// SearchTopK performs brute-force cosine similarity search over every
// record, breaking ties by chunk_id ascending, and returns at most k
// results. It takes only a read lock, so it is safe under concurrent
// writers.
func (s *Store) SearchTopK(query []float32, k int) ([]ScoredVector, error) {
	if len(query) != s.dimension {
		return nil, apperr.Newf(apperr.CodeInvalidInput, "query vector dimension %d does not match store dimension %d", len(query), s.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScoredVector, 0, len(s.records))
	for id, rec := range s.records {
		out = append(out, ScoredVector{
			ChunkID: id,
			DocID:   rec.DocID,
			Score:   cosineSimilarity(query, rec.Vector),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

// Get returns the vector for a single chunk, if present.
func (s *Store) Get(chunkID string) (types.VectorRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[chunkID]
	return rec, ok
}

// BeginBatch opens a staging buffer that accumulates writes without
// affecting the live, searchable map. It is an error to call BeginBatch
// twice without an intervening EndBatch/DiscardBatch.
func (s *Store) BeginBatch() error {
	s.stagingMu.Lock()
	defer s.stagingMu.Unlock()
	if s.batching {
		return apperr.New(apperr.CodeBusy, "vector store batch already in progress")
	}
	s.batching = true
	s.staging = make(map[string]types.VectorRecord)
	return nil
}

// StageUpsert adds a record to the open staging buffer. Callers must hold
// a batch opened with BeginBatch.
func (s *Store) StageUpsert(rec types.VectorRecord) error {
	if len(rec.Vector) != s.dimension {
		return apperr.Newf(apperr.CodeInvalidInput, "vector dimension %d does not match store dimension %d", len(rec.Vector), s.dimension)
	}
	s.stagingMu.Lock()
	defer s.stagingMu.Unlock()
	if !s.batching {
		return apperr.New(apperr.CodeInvalidInput, "stage upsert called without an open batch")
	}
	s.staging[rec.ChunkID] = rec
	return nil
}

// EndBatch atomically replaces the live map with the staged one under the
// write lock and returns the number of vectors committed.
func (s *Store) EndBatch() (int, error) {
	s.stagingMu.Lock()
	if !s.batching {
		s.stagingMu.Unlock()
		return 0, apperr.New(apperr.CodeInvalidInput, "end_batch called without begin_batch")
	}
	staged := s.staging
	s.staging = nil
	s.batching = false
	s.stagingMu.Unlock()

	s.mu.Lock()
	s.records = staged
	s.mu.Unlock()
	return len(staged), nil
}

// DiscardBatch abandons a staged batch without touching the live map.
func (s *Store) DiscardBatch() {
	s.stagingMu.Lock()
	defer s.stagingMu.Unlock()
	s.staging = nil
	s.batching = false
}

type snapshot struct {
	Dimension int                  `json:"dimension"`
	Records   []types.VectorRecord `json:"records"`
}

// SnapshotTo writes the current map to path using a temp-file-then-rename
// sequence so readers never observe a partial file, guarded by a
// cross-process flock so two engine instances never race on the same
// data root.
func (s *Store) SnapshotTo(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return apperr.Wrap(apperr.CodeIO, "acquire vector store snapshot lock", err)
	}
	defer func() { _ = lock.Unlock() }()

	s.mu.RLock()
	snap := snapshot{Dimension: s.dimension, Records: make([]types.VectorRecord, 0, len(s.records))}
	for _, rec := range s.records {
		snap.Records = append(snap.Records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].ChunkID < snap.Records[j].ChunkID })

	tmpPath := path + ".tmp"
	if err := writeJSONFile(tmpPath, snap); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperr.Wrap(apperr.CodeIO, "rename vector store snapshot into place", err)
	}
	return nil
}

// LoadFrom reads a snapshot written by SnapshotTo, rejecting it outright
// if its dimension does not match the store's configured dimension.
func (s *Store) LoadFrom(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Wrap(apperr.CodeIO, "open vector store snapshot", err)
	}
	defer f.Close()

	var snap snapshot
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&snap); err != nil {
		return apperr.Wrap(apperr.CodeIO, "decode vector store snapshot", err)
	}
	if snap.Dimension != s.dimension {
		return apperr.Newf(apperr.CodeInconsistent, "snapshot dimension %d does not match configured dimension %d", snap.Dimension, s.dimension)
	}

	records := make(map[string]types.VectorRecord, len(snap.Records))
	for _, rec := range snap.Records {
		if len(rec.Vector) != snap.Dimension {
			return apperr.Newf(apperr.CodeInconsistent, "snapshot record %q has dimension %d, want %d", rec.ChunkID, len(rec.Vector), snap.Dimension)
		}
		records[rec.ChunkID] = rec
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Wrap(apperr.CodeIO, "create vector store directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return apperr.Wrap(apperr.CodeIO, "create vector store snapshot temp file", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return apperr.Wrap(apperr.CodeIO, "encode vector store snapshot", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return apperr.Wrap(apperr.CodeIO, "flush vector store snapshot", err)
	}
	return f.Close()
}
