package chunking

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func TestNewServiceRejectsNonPositiveTargetSize(t *testing.T) {
	_, err := NewService(Config{Mode: ModeFixed, TargetSize: 0}, nil)
	require.Error(t, err)
}

func TestNewServiceRequiresEmbedderForSemantic(t *testing.T) {
	_, err := NewService(Config{Mode: ModeSemantic, TargetSize: 100}, nil)
	require.Error(t, err)
}

func TestChunkFixedCoversWholeInput(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeFixed, TargetSize: 20}, nil)
	require.NoError(t, err)

	text := strings.Repeat("abcdefghij", 10) // 100 chars
	chunks, err := svc.Chunk(context.Background(), "doc1", text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, c := range chunks {
		assert.Equal(t, uint32(i), c.Ordinal)
		assert.LessOrEqual(t, len([]rune(c.Text)), 20)
	}
	// last chunk should reach the end of input
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1].Text))
}

func TestChunkRejectsInvalidUTF8(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeFixed, TargetSize: 50}, nil)
	require.NoError(t, err)

	_, err = svc.Chunk(context.Background(), "doc1", string([]byte{0xff, 0xfe, 0xfd}))
	require.Error(t, err)
}

func TestChunkEmptyTextYieldsNoChunks(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeFixed, TargetSize: 50}, nil)
	require.NoError(t, err)

	chunks, err := svc.Chunk(context.Background(), "doc1", "   \n\n  ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkLightweightRespectsHeadingBoundary(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeLightweight, TargetSize: 384}, nil)
	require.NoError(t, err)

	text := "# Introduction\n\nSome opening text about the project.\n\n# Details\n\nMore text follows here describing details."
	chunks, err := svc.Chunk(context.Background(), "doc1", text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var sawHeading bool
	for _, c := range chunks {
		if strings.HasPrefix(c.Text, "# ") {
			sawHeading = true
		}
	}
	assert.True(t, sawHeading)
}

func TestChunkSemanticMergesSimilarCandidates(t *testing.T) {
	embedder := &stubEmbedder{vec: []float32{1, 0, 0}}
	svc, err := NewService(Config{Mode: ModeSemantic, TargetSize: 384}, embedder)
	require.NoError(t, err)

	text := "# Cats\n\nFirst paragraph about cats.\n\n# More cats\n\nSecond paragraph about cats."
	chunks, err := svc.Chunk(context.Background(), "doc1", text)
	require.NoError(t, err)
	// the headings split the text into four structural candidates;
	// identical vectors => similarity 1.0 => all four merge into one chunk
	assert.Len(t, chunks, 1)
}

func TestChunkSemanticPropagatesEmbedderError(t *testing.T) {
	embedder := &stubEmbedder{err: assertErr}
	svc, err := NewService(Config{Mode: ModeSemantic, TargetSize: 384}, embedder)
	require.NoError(t, err)

	_, err = svc.Chunk(context.Background(), "doc1", "one\n\ntwo")
	require.Error(t, err)
}

var assertErr = assertError("embedder down")

type assertError string

func (e assertError) Error() string { return string(e) }
