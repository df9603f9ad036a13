package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"ragengine/internal/retriever"
	"ragengine/pkg/types"
)

// Search serves GET /search: q/top_k/mode/rerank query parameters drive a
// single Retriever.Search call. Errors are reported with the
// idempotent Backend->503 mapping since a failed search has no side
// effects to worry about retrying.
func (s *AppState) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	opts := retrieverOptionsFromQuery(r)
	result, err := s.Retriever.Search(r.Context(), q, opts)
	if err != nil {
		writeAppError(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func retrieverOptionsFromQuery(r *http.Request) retriever.Options {
	q := r.URL.Query()
	opts := retriever.Options{TopK: 10, Mode: types.ModeHybrid}
	if v := q.Get("top_k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.TopK = n
		}
	}
	if v := q.Get("mode"); v != "" {
		opts.Mode = types.SearchMode(v)
	}
	if v := q.Get("rerank"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.Rerank = b
		}
	}
	return opts
}

// rerankRequest is the POST /rerank request body.
type rerankRequest struct {
	Q          string   `json:"q"`
	Candidates []string `json:"candidates"`
}

// Rerank serves POST /rerank: recomputes scores for a fixed candidate set
// against a fresh query embedding and returns
// them re-ordered.
func (s *AppState) Rerank(w http.ResponseWriter, r *http.Request) {
	var req rerankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q must not be empty"})
		return
	}

	hits, err := s.Retriever.Rerank(r.Context(), req.Q, req.Candidates)
	if err != nil {
		writeAppError(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": hits})
}
