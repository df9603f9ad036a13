package api

import "net/http"

// Health serves GET /monitoring/health: a liveness-style check reporting
// component status without gating on whether an index commit has
// happened yet. Always 200 while the process itself is alive; a real
// failure here would mean the process can't serve requests at all.
func (s *AppState) Health(w http.ResponseWriter, r *http.Request) {
	retrieverStatus := "not_ready"
	if s.Retriever.Ready() {
		retrieverStatus = "ready"
	}

	rateLimiterStatus := "disabled"
	if s.Limiter != nil {
		rateLimiterStatus = "enabled"
	}

	status := "healthy"
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"components": map[string]string{
			"retriever":    retrieverStatus,
			"cache":        "ok",
			"rate_limiter": rateLimiterStatus,
		},
	})
}

// Ready serves GET /monitoring/ready: readiness gates on the Retriever
// having committed at least one successful index generation. A
// reindex that fails after the index commit but before the vector-store
// swap marks the retriever not-committed, so this endpoint correctly
// flips to 503 on an Inconsistent-state failure too.
func (s *AppState) Ready(w http.ResponseWriter, r *http.Request) {
	if !s.Retriever.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
