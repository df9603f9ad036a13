// Package types defines the core entities shared across the retrieval
// engine: documents, chunks, vector records, cache entries, reindex jobs,
// and request spans.
package types

import "time"

// ContentType classifies an uploaded document by how its text is extracted.
type ContentType string

const (
	ContentTypeText ContentType = "text"
	ContentTypePDF  ContentType = "pdf"
)

// Document describes a single uploaded file under the data root's
// documents/ directory.
type Document struct {
	DocID       string      `json:"doc_id"`
	SourcePath  string      `json:"source_path"`
	ByteSize    int64       `json:"byte_size"`
	MTime       time.Time   `json:"mtime"`
	ContentType ContentType `json:"content_type"`
}

// Chunk is the unit of indexing and retrieval: a bounded text span plus
// its dense vector, produced by the Chunker and embedded by the Embedder.
type Chunk struct {
	ChunkID string    `json:"chunk_id"`
	DocID   string    `json:"doc_id"`
	Ordinal uint32    `json:"ordinal"`
	Text    string    `json:"text"`
	Vector  []float32 `json:"vector,omitempty"`
}

// VectorRecord is a Chunk stripped of text, as persisted in vectors.json.
type VectorRecord struct {
	ChunkID string    `json:"chunk_id"`
	DocID   string    `json:"doc_id"`
	Vector  []float32 `json:"vector"`
}

// SearchMode selects how a query is scored.
type SearchMode string

const (
	ModeLexical SearchMode = "lexical"
	ModeVector  SearchMode = "vector"
	ModeHybrid  SearchMode = "hybrid"
)

// SearchHit is one ranked result from the Retriever.
type SearchHit struct {
	ChunkID    string   `json:"chunk_id"`
	DocID      string   `json:"doc_id"`
	Score      float64  `json:"score"`
	Excerpt    string   `json:"excerpt"`
	Highlights []string `json:"highlights,omitempty"`
}

// SearchResult is the full response of a Retriever.Search call.
type SearchResult struct {
	Results  []SearchHit `json:"results"`
	TookMS   int64       `json:"took_ms"`
	CacheHit bool        `json:"cache_hit"`
}

// QueryCacheEntry is what the L1/L2/L3 cache tiers store per fingerprint.
type QueryCacheEntry struct {
	Fingerprint string
	Results     []SearchHit
	CreatedAt   time.Time
	TTL         time.Duration
	Generation  uint64
}

// JobStatus is the lifecycle state of a ReindexJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ReindexStats summarizes a completed or failed reindex.
type ReindexStats struct {
	Docs       int   `json:"docs"`
	Chunks     int   `json:"chunks"`
	Vectors    int   `json:"vectors"`
	DurationMS int64 `json:"duration_ms"`
}

// ReindexJob tracks the lifecycle of one (a)synchronous reindex request.
type ReindexJob struct {
	JobID     string        `json:"job_id"`
	Status    JobStatus     `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Stats     *ReindexStats `json:"stats,omitempty"`
	Error     string        `json:"error,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// Span is a per-request observability record closed at the end of the
// request's lifetime.
type Span struct {
	TraceID     string
	SpanID      string
	ParentID    string
	Start       time.Time
	End         time.Time
	Method      string
	Route       string
	StatusClass string
	ClientIP    string
	RequestID   string
	UserAgent   string
	Error       bool
}

// DurationMS returns the span's wall-clock duration in milliseconds.
func (s Span) DurationMS() int64 {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start).Milliseconds()
}
