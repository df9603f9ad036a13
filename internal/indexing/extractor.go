package indexing

import (
	"context"

	apperr "ragengine/internal/errors"
)

// ExternalExtractor converts raw PDF bytes into plain text. Real PDF
// extraction is an out-of-scope external collaborator per the engine's
// scope decisions; Stub always fails so callers see a clear CodeBackend
// rather than silently indexing garbage.
type ExternalExtractor interface {
	Extract(ctx context.Context, raw []byte) (string, error)
}

// StubExtractor is the placeholder wired by default. Replace it with a
// real extractor binding (e.g. a subprocess or library call) when one is
// available; nothing in this package assumes a specific implementation.
type StubExtractor struct{}

func (StubExtractor) Extract(context.Context, []byte) (string, error) {
	return "", apperr.New(apperr.CodeBackend, "pdf extraction is not implemented; no external extractor configured")
}
