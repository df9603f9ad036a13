package embeddings

import (
	"context"
	"hash/fnv"
	"math"
)

// HashingEmbedder produces a deterministic, dependency-free vector for a
// piece of text by hashing overlapping shingles into fixed buckets and
// L2-normalizing the result. It stands in for the real provider — an
// out-of-scope external collaborator — so the rest of the engine (and its
// tests) has something to embed against without a network call.
type HashingEmbedder struct {
	dimension int
}

// NewHashingEmbedder constructs a HashingEmbedder producing vectors of the
// given dimension.
func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashingEmbedder{dimension: dimension}
}

func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimension)
	tokens := shingle(text, 3)
	for _, tok := range tokens {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(tok))
		bucket := int(hasher.Sum32()) % h.dimension
		if bucket < 0 {
			bucket += h.dimension
		}
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec, nil
}

func (h *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashingEmbedder) Dimension() int { return h.dimension }

// shingle splits text into lowercase word n-grams of size n (or single
// words when there are fewer than n in total).
func shingle(text string, n int) []string {
	words := splitWords(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) < n {
		return words
	}
	out := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		gram := words[i]
		for j := 1; j < n; j++ {
			gram += " " + words[i+j]
		}
		out = append(out, gram)
	}
	return out
}

func splitWords(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			cur = append(cur, r+('a'-'A'))
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			cur = append(cur, r)
		default:
			flush()
		}
	}
	flush()
	return words
}

var _ Embedder = (*HashingEmbedder)(nil)
