package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"ragengine/internal/api/middleware"
)

// NewRouter builds the engine's full HTTP surface over state.
// Middleware order: recoverer, CORS/security/sanitization
// (ambient, always on), then correlation -> span -> rate-limit -> metrics
// for every route.
func NewRouter(state *AppState) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewDefaultCORSMiddleware().Handler())
	r.Use(middleware.NewDefaultSecurityHeadersMiddleware().Handler())
	r.Use(middleware.NewDefaultSanitizationMiddleware().Handler())
	r.Use(state.Correlation)
	r.Use(state.Span)
	r.Use(state.RateLimit)
	r.Use(state.Metrics)

	r.Post("/upload", state.Upload)
	r.Get("/documents", state.ListDocuments)
	r.Delete("/documents/{name}", state.DeleteDocument)

	r.Get("/search", state.Search)
	r.Post("/rerank", state.Rerank)

	r.Post("/reindex", state.Reindex)
	r.Post("/reindex/async", state.ReindexAsync)
	r.Get("/reindex/status/{job_id}", state.ReindexStatus)

	r.Get("/index/info", state.IndexInfo)

	r.Get("/monitoring/health", state.Health)
	r.Get("/monitoring/ready", state.Ready)
	r.Get("/monitoring/metrics", state.MetricsHandler().ServeHTTP)

	return r
}
