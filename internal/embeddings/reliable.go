package embeddings

import (
	"context"

	"ragengine/internal/circuitbreaker"
	apperr "ragengine/internal/errors"
	"ragengine/internal/retry"
)

// ReliableEmbedder wraps an Embedder with retry-with-backoff and a circuit
// breaker, so a flaky or overloaded provider degrades to CodeBackend
// failures quickly instead of hanging the indexing pipeline or a live
// search request.
type ReliableEmbedder struct {
	inner   Embedder
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
}

// NewReliableEmbedder wraps inner. Pass nil for either config to use its
// package default.
func NewReliableEmbedder(inner Embedder, retryCfg *retry.Config, cbCfg *circuitbreaker.Config) *ReliableEmbedder {
	return &ReliableEmbedder{
		inner:   inner,
		retrier: retry.New(retryCfg),
		breaker: circuitbreaker.New(cbCfg),
	}
}

func (r *ReliableEmbedder) call(ctx context.Context, op func(context.Context) error) error {
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		res := r.retrier.Do(ctx, op)
		return res.Err
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeBackend, "embedding provider call failed", err)
	}
	return nil
}

func (r *ReliableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.call(ctx, func(ctx context.Context) error {
		v, err := r.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (r *ReliableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := r.call(ctx, func(ctx context.Context) error {
		v, err := r.inner.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func (r *ReliableEmbedder) Dimension() int { return r.inner.Dimension() }

var _ Embedder = (*ReliableEmbedder)(nil)
