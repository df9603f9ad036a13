// Package reindexjob implements the bounded job tracker behind the
// asynchronous reindex handlers: pending -> running ->
// succeeded|failed, retained in a capacity-64 LRU so status lookups for
// unknown ids can return a clean 404 instead of growing memory forever.
package reindexjob

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"ragengine/internal/logging"
	"ragengine/internal/webhook"
	"ragengine/pkg/types"
)

// Capacity is the bounded job history size.
const Capacity = 64

// Runner performs the actual reindex work; *retriever.Retriever
// satisfies this through its AtomicReindex method plus a caller-supplied
// source-chunk provider, kept decoupled here so the manager has no
// dependency on how chunks are produced.
type Runner func(ctx context.Context) (types.ReindexStats, error)

// Manager tracks reindex jobs and dispatches the completion webhook.
type Manager struct {
	mu     sync.Mutex
	jobs   *lru.Cache[string, *types.ReindexJob]
	hook   *webhook.Dispatcher
	logger logging.Logger
}

// New constructs a Manager. hook may be nil, disabling webhook delivery.
func New(hook *webhook.Dispatcher, logger logging.Logger) *Manager {
	jobs, _ := lru.New[string, *types.ReindexJob](Capacity)
	return &Manager{jobs: jobs, hook: hook, logger: logger}
}

// Status returns the job with the given id, or ok=false if unknown or
// evicted (the caller maps this to HTTP 404).
func (m *Manager) Status(jobID string) (types.ReindexJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs.Get(jobID)
	if !ok {
		return types.ReindexJob{}, false
	}
	return *job, true
}

// Submit registers a new job and runs it asynchronously, transitioning
// pending -> running -> succeeded|failed and firing the completion
// webhook on either terminal state.
func (m *Manager) Submit(ctx context.Context, requestID string, run Runner) string {
	jobID := uuid.NewString()
	job := &types.ReindexJob{
		JobID:     jobID,
		Status:    types.JobPending,
		StartedAt: time.Now(),
		RequestID: requestID,
	}
	m.mu.Lock()
	m.jobs.Add(jobID, job)
	m.mu.Unlock()

	go m.run(ctx, jobID, run)
	return jobID
}

func (m *Manager) run(ctx context.Context, jobID string, run Runner) {
	m.transition(jobID, func(j *types.ReindexJob) { j.Status = types.JobRunning })

	stats, err := run(ctx)

	now := time.Now()
	var finalStatus types.JobStatus
	var finalErr string
	var finalStats *types.ReindexStats
	if err != nil {
		finalStatus = types.JobFailed
		finalErr = classify(err)
	} else {
		finalStatus = types.JobSucceeded
		finalStats = &stats
	}

	m.transition(jobID, func(j *types.ReindexJob) {
		j.Status = finalStatus
		j.EndedAt = &now
		j.Error = finalErr
		j.Stats = finalStats
	})

	if m.hook != nil {
		m.hook.Send(webhook.Payload{
			JobID:     jobID,
			RequestID: m.requestID(jobID),
			Status:    finalStatus,
			Stats:     finalStats,
			Error:     finalErr,
			Timestamp: now,
		})
	}
}

func (m *Manager) transition(jobID string, mutate func(*types.ReindexJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs.Get(jobID)
	if !ok {
		return
	}
	mutate(job)
}

func (m *Manager) requestID(jobID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs.Peek(jobID)
	if !ok {
		return ""
	}
	return job.RequestID
}

// classify produces the error text the webhook payload and job status
// carry: the error's full message, which for a wrapped error includes the
// messages of the errors it wraps.
func classify(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
