// Package embeddings provides the thin adapter contract over an external
// embedding provider, plus the reliability and caching wrappers the rest
// of the engine composes around it. The provider itself — whatever
// answers embed(text) -> vector — is an out-of-scope external
// collaborator; apart from HashingEmbedder, a deterministic local stand-in,
// this package holds only the contract and the plumbing around it.
package embeddings

import (
	"context"

	apperr "ragengine/internal/errors"
)

// Embedder produces a fixed-dimension vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ValidateDimension returns apperr.CodeBackend when the provider returns a
// vector whose length does not match the configured dimension, catching
// a misbehaving provider at the earliest possible point.
func ValidateDimension(vec []float32, want int) error {
	if len(vec) != want {
		return apperr.Newf(apperr.CodeBackend, "embedder returned dimension %d, want %d", len(vec), want)
	}
	return nil
}
