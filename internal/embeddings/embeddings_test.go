package embeddings

import (
	"context"
	"errors"
	"testing"

	apperr "ragengine/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingEmbedderIsDeterministic(t *testing.T) {
	e := NewHashingEmbedder(64)
	a, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashingEmbedderDiffersForDifferentText(t *testing.T) {
	e := NewHashingEmbedder(64)
	a, _ := e.Embed(context.Background(), "alpha beta gamma")
	b, _ := e.Embed(context.Background(), "completely unrelated content here")
	assert.NotEqual(t, a, b)
}

func TestValidateDimensionRejectsMismatch(t *testing.T) {
	err := ValidateDimension([]float32{1, 2, 3}, 4)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeBackend, apperr.CodeOf(err))
}

func TestValidateDimensionAcceptsMatch(t *testing.T) {
	require.NoError(t, ValidateDimension([]float32{1, 2, 3}, 3))
}

type countingEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.vec, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := c.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int { return len(c.vec) }

func TestCachedEmbedderAvoidsRepeatedCalls(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2, 3}}
	cached, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	v1, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderBatchDedupesAgainstCacheAndWithinBatch(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2, 3}}
	cached, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), "a")
	require.NoError(t, err)

	out, err := cached.EmbedBatch(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	// "a" was already cached; "b" is a fresh miss.
	assert.Equal(t, 2, inner.calls)
}

var errProvider = errors.New("provider unavailable")

func TestReliableEmbedderWrapsFailureAsBackendError(t *testing.T) {
	inner := &countingEmbedder{err: errProvider}
	r := NewReliableEmbedder(inner, nil, nil)

	_, err := r.Embed(context.Background(), "x")
	require.Error(t, err)
}

func TestReliableEmbedderPassesThroughSuccess(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{0.5, 0.5}}
	r := NewReliableEmbedder(inner, nil, nil)

	v, err := r.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, v)
	assert.Equal(t, 2, r.Dimension())
}
