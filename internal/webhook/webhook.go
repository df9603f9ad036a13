// Package webhook implements the fire-and-forget reindex-completion
// notifier: a single JSON POST per terminal job state,
// delivered best-effort and never retried.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ragengine/internal/logging"
	"ragengine/pkg/types"
)

// DeliveryTimeout bounds a single webhook POST so a slow receiver never
// stalls job teardown.
const DeliveryTimeout = 3 * time.Second

// Payload is the JSON body delivered on job completion.
type Payload struct {
	JobID     string            `json:"job_id"`
	RequestID string            `json:"request_id"`
	Status    types.JobStatus   `json:"status"`
	Stats     *types.ReindexStats `json:"stats,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Dispatcher posts Payloads to a configured URL. A zero-value Dispatcher
// with an empty URL is a valid no-op (Send returns immediately).
type Dispatcher struct {
	url    string
	client *http.Client
	logger logging.Logger
}

// New constructs a Dispatcher. If url is empty, Send is a no-op, modeling
// "webhook not configured" without requiring callers to branch.
func New(url string, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		url:    url,
		client: &http.Client{Timeout: DeliveryTimeout},
		logger: logger,
	}
}

// Send delivers payload in its own goroutine and returns immediately;
// failures are logged at warn and never retried or surfaced to the
// caller. Delivery is strictly best-effort.
func (d *Dispatcher) Send(payload Payload) {
	if d.url == "" {
		return
	}
	go d.deliver(payload)
}

func (d *Dispatcher) deliver(payload Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("webhook: failed to marshal payload", "job_id", payload.JobID, "error", err)
		}
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("webhook: failed to build request", "job_id", payload.JobID, "error", err)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("webhook: delivery failed", "job_id", payload.JobID, "error", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		if d.logger != nil {
			d.logger.Warn("webhook: non-2xx response", "job_id", payload.JobID, "status", resp.StatusCode)
		}
	}
}
