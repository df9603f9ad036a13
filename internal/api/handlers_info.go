package api

import (
	"net/http"

	"ragengine/internal/metrics"
)

// IndexInfo serves GET /index/info: a point-in-time snapshot of the
// retriever's committed state, for operators inspecting index health
// without reaching for the Prometheus exposition.
func (s *AppState) IndexInfo(w http.ResponseWriter, r *http.Request) {
	snap := s.Retriever.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"docs":              snap.Docs,
		"chunks":            snap.Chunks,
		"vectors":           snap.Vectors,
		"last_commit":       snap.LastCommit,
		"cache_hit_rate_l1": snap.CacheHitRateL1,
		"chunking_mode":     s.Config.Chunking.Mode,
		"embedding_dim":     s.Config.Embedding.Dimension,
		"index_in_ram":      s.Config.Data.IndexInRAM,
	})
}

// MetricsHandler serves GET /monitoring/metrics via the shared Prometheus
// exposition handler built over this AppState's registry.
func (s *AppState) MetricsHandler() http.Handler {
	return metrics.Handler(s.PromReg)
}
