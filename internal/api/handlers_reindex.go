package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperr "ragengine/internal/errors"
	"ragengine/internal/webhook"
	"ragengine/pkg/types"
)

// runReindex collects the current documents/ directory into a chunk set
// and commits it through AtomicReindex's single-flight protocol.
func (s *AppState) runReindex(ctx context.Context) (types.ReindexStats, error) {
	chunks, _, err := s.Pipeline.Collect(ctx)
	if err != nil {
		return types.ReindexStats{}, err
	}
	return s.Retriever.AtomicReindex(ctx, chunks, s.Config.Data.VectorsPath())
}

// Reindex serves POST /reindex: a synchronous full reindex. A concurrent
// reindex already in flight (sync or async) is reported as 429 busy
// rather than queued, matching the single-flight guard's contract.
func (s *AppState) Reindex(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())
	stats, err := s.runReindex(r.Context())
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeBusy {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "busy"})
			return
		}
		writeAppError(w, err, false)
		return
	}

	s.dispatchReindexWebhook(requestID, types.JobSucceeded, &stats, "")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": stats})
}

// ReindexAsync serves POST /reindex/async: submits the same reindex work
// to the bounded job tracker and returns immediately with a job id to
// poll. The job runs against a detached context so the client closing its
// connection can never cancel it mid-run.
func (s *AppState) ReindexAsync(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())
	jobID := s.Jobs.Submit(context.Background(), requestID, s.runReindex)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "job_id": jobID})
}

// ReindexStatus serves GET /reindex/status/{job_id}.
func (s *AppState) ReindexStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, ok := s.Jobs.Status(jobID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job id"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *AppState) dispatchReindexWebhook(requestID string, status types.JobStatus, stats *types.ReindexStats, errMsg string) {
	if s.Webhook == nil {
		return
	}
	s.Webhook.Send(webhook.Payload{
		RequestID: requestID,
		Status:    status,
		Stats:     stats,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}
