// Package chunking splits extracted document text into overlapping,
// bounded-size Chunks that preserve sentence and paragraph boundaries.
package chunking

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	apperr "ragengine/internal/errors"
	"ragengine/pkg/types"
)

// Mode selects the chunking strategy. Modeled as a variant + factory
// rather than subclassing, per the engine's plugin-like chunker design.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeLightweight Mode = "lightweight"
	ModeSemantic    Mode = "semantic"
)

// Embedder is the minimal contract the semantic chunking mode consults to
// merge structurally-adjacent candidates. It is the same interface the
// rest of the engine uses for query/document embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var (
	headingPattern   = regexp.MustCompile(`(?m)^#+\s`)
	allCapsShortLine = regexp.MustCompile(`^[A-Z0-9 \-_:]{3,60}$`)
	sentenceEnd      = regexp.MustCompile(`[.!?]\s`)
)

// Service produces a finite sequence of Chunks from document text.
type Service struct {
	mode       Mode
	targetSize int
	embedder   Embedder // only required, and only consulted, in ModeSemantic
}

// Config carries the chunker's tunables, mirroring the engine's typed
// configuration for this component.
type Config struct {
	Mode       Mode
	TargetSize int
}

// NewService constructs a Service for the given mode. embedder may be nil
// unless mode is ModeSemantic.
func NewService(cfg Config, embedder Embedder) (*Service, error) {
	if cfg.TargetSize <= 0 {
		return nil, apperr.New(apperr.CodeConfig, "chunk target size must be positive")
	}
	if cfg.Mode == ModeSemantic && embedder == nil {
		return nil, apperr.New(apperr.CodeConfig, "semantic chunking requires an embedder")
	}
	return &Service{mode: cfg.Mode, targetSize: cfg.TargetSize, embedder: embedder}, nil
}

// Chunk splits text into an ordered slice of Chunks belonging to docID.
// ctx is only consulted by ModeSemantic, which calls the embedder.
func (s *Service) Chunk(ctx context.Context, docID string, text string) ([]types.Chunk, error) {
	if !utf8.ValidString(text) {
		return nil, apperr.New(apperr.CodeInvalidInput, "document text is not valid UTF-8")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var spans []string
	switch s.mode {
	case ModeFixed:
		spans = s.chunkFixed(text)
	case ModeLightweight:
		spans = s.chunkStructural(text)
	case ModeSemantic:
		structural := s.chunkStructural(text)
		merged, err := s.mergeSemantic(ctx, structural)
		if err != nil {
			return nil, err
		}
		spans = merged
	default:
		return nil, apperr.Newf(apperr.CodeConfig, "unknown chunk mode %q", s.mode)
	}

	chunks := make([]types.Chunk, 0, len(spans))
	for i, span := range spans {
		if strings.TrimSpace(span) == "" {
			continue
		}
		chunks = append(chunks, types.Chunk{
			DocID:   docID,
			Ordinal: uint32(i),
			Text:    span,
		})
	}
	return chunks, nil
}

// chunkFixed slides a window of targetSize characters with 10-20% overlap.
func (s *Service) chunkFixed(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if n <= s.targetSize {
		return []string{text}
	}

	overlap := s.targetSize / 6 // ~16%, within the 10-20% band
	if overlap < 1 {
		overlap = 1
	}
	step := s.targetSize - overlap

	var spans []string
	for start := 0; start < n; start += step {
		end := start + s.targetSize
		if end > n {
			end = n
		}
		spans = append(spans, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return spans
}

// chunkStructural implements the lightweight mode: prefer paragraph
// breaks, then sentence terminators, then whitespace, honoring headings
// and short all-caps lines as hard boundaries. Paragraphs accumulate
// into a chunk of at most 1.5*targetSize characters; no minimum size is
// enforced, so a chunk closed early by a heading, and the last chunk,
// can be shorter than 0.5*targetSize. A paragraph that starts with a
// heading becomes its own chunk whatever its length.
func (s *Service) chunkStructural(text string) []string {
	minSize := s.targetSize / 2
	maxSize := s.targetSize + s.targetSize/2

	paragraphs := splitParagraphs(text)

	var out []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}

	for _, para := range paragraphs {
		if isHeading(para) {
			flush()
			out = append(out, para)
			continue
		}

		if buf.Len() > 0 && buf.Len()+len(para)+2 > maxSize {
			flush()
		}

		if len(para) > maxSize {
			// Oversized single paragraph: split at sentence boundaries.
			flush()
			out = append(out, splitBySentence(para, minSize, maxSize)...)
			continue
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)

		if buf.Len() >= minSize && buf.Len() <= maxSize {
			// Good stopping point; keep accumulating only if next
			// paragraph would still fit comfortably is decided above.
			continue
		}
	}
	flush()
	return out
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimRight(p, "\n")
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func isHeading(para string) bool {
	lines := strings.SplitN(para, "\n", 2)
	first := strings.TrimSpace(lines[0])
	if headingPattern.MatchString(first) {
		return true
	}
	if len(lines) == 1 && len(first) <= 60 && allCapsShortLine.MatchString(first) {
		return true
	}
	return false
}

// splitBySentence breaks an oversized paragraph at sentence terminators,
// falling back to whitespace if no terminator keeps chunks under maxSize.
func splitBySentence(text string, minSize, maxSize int) []string {
	idxs := sentenceEnd.FindAllStringIndex(text, -1)
	if len(idxs) == 0 {
		return splitByWhitespace(text, maxSize)
	}

	var out []string
	emit := func(piece string) {
		piece = strings.TrimSpace(piece)
		if len(piece) > maxSize {
			out = append(out, splitByWhitespace(piece, maxSize)...)
			return
		}
		out = append(out, piece)
	}
	start := 0
	for _, loc := range idxs {
		end := loc[1]
		if end-start >= minSize || end == len(text) {
			emit(text[start:end])
			start = end
		}
		if end-start > maxSize {
			break
		}
	}
	if start < len(text) {
		emit(text[start:])
	}
	return out
}

func splitByWhitespace(text string, maxSize int) []string {
	words := strings.Fields(text)
	var out []string
	var buf strings.Builder
	for _, w := range words {
		if buf.Len()+len(w)+1 > maxSize && buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(w)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

// mergeSemantic merges adjacent structural candidates whose cosine
// similarity exceeds 0.8, stopping once the merged span would exceed
// 1.5*targetSize. Only invoked for ModeSemantic, reserved for offline
// indexing.
func (s *Service) mergeSemantic(ctx context.Context, spans []string) ([]string, error) {
	const similarityThreshold = 0.8
	maxSize := s.targetSize + s.targetSize/2

	if len(spans) == 0 {
		return spans, nil
	}

	vectors := make([][]float32, len(spans))
	for i, span := range spans {
		v, err := s.embedder.Embed(ctx, span)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeBackend, "embed chunk candidate for semantic merge", err)
		}
		vectors[i] = v
	}

	var merged []string
	curText := spans[0]
	curVec := vectors[0]
	for i := 1; i < len(spans); i++ {
		sim := cosineSimilarity(curVec, vectors[i])
		if sim > similarityThreshold && len(curText)+len(spans[i])+2 <= maxSize {
			curText = curText + "\n\n" + spans[i]
			curVec = averageVectors(curVec, vectors[i])
			continue
		}
		merged = append(merged, curText)
		curText = spans[i]
		curVec = vectors[i]
	}
	merged = append(merged, curText)
	return merged, nil
}

func cosineSimilarity(a, b []float32) float64 {
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

func averageVectors(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}
