// Package tracealerter implements the optional trace alerter:
// every 30s it scans recently closed request spans for threshold
// breaches (slow requests, elevated error rate) and logs a classified
// anomaly, incrementing the Observability Registry's counter.
package tracealerter

import (
	"context"
	"sync"
	"time"

	"ragengine/internal/logging"
	"ragengine/internal/metrics"
	"ragengine/pkg/types"
)

// Kind classifies a detected anomaly.
type Kind string

const (
	KindSlowRequest Kind = "slow_request"
	KindErrorBurst  Kind = "error_burst"
)

// Config tunes the alerter's thresholds.
type Config struct {
	PollInterval        time.Duration
	SlowSpanThresholdMS int64
	ErrorRateThreshold  float64 // fraction of the window, e.g. 0.1 = 10%
	RingCapacity        int
}

// DefaultConfig uses the standard 30s poll cadence.
func DefaultConfig() Config {
	return Config{
		PollInterval:        30 * time.Second,
		SlowSpanThresholdMS: 2000,
		ErrorRateThreshold:  0.1,
		RingCapacity:        512,
	}
}

// ring is a fixed-capacity circular buffer of recently closed spans.
type ring struct {
	mu    sync.Mutex
	buf   []types.Span
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]types.Span, capacity)}
}

func (r *ring) add(s types.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) snapshot() []types.Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Span, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.next - r.count + i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

// Alerter polls a ring of recently completed spans and classifies
// anomalies against fixed thresholds.
type Alerter struct {
	cfg     Config
	ring    *ring
	metrics *metrics.Registry
	logger  logging.Logger
}

// New constructs an Alerter. reg may be nil in tests.
func New(cfg Config, reg *metrics.Registry, logger logging.Logger) *Alerter {
	if cfg.PollInterval <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 512
	}
	return &Alerter{cfg: cfg, ring: newRing(cfg.RingCapacity), metrics: reg, logger: logger}
}

// RecordSpan feeds a completed request span into the alerter's window.
// Called by the request middleware when a span closes.
func (a *Alerter) RecordSpan(s types.Span) {
	a.ring.add(s)
}

// Run blocks, polling the span window every PollInterval until ctx is
// cancelled. Intended to be started as a single long-running task.
func (a *Alerter) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.check()
		}
	}
}

func (a *Alerter) check() {
	spans := a.ring.snapshot()
	if len(spans) == 0 {
		return
	}

	var errCount int
	for _, s := range spans {
		if s.Error {
			errCount++
		}
		if s.DurationMS() >= a.cfg.SlowSpanThresholdMS {
			a.raise(KindSlowRequest, s)
		}
	}

	if rate := float64(errCount) / float64(len(spans)); rate >= a.cfg.ErrorRateThreshold {
		a.raise(KindErrorBurst, types.Span{})
	}
}

func (a *Alerter) raise(kind Kind, s types.Span) {
	if a.logger != nil {
		a.logger.Warn("trace anomaly detected", "kind", kind, "route", s.Route, "duration_ms", s.DurationMS())
	}
	if a.metrics != nil {
		a.metrics.TraceAnomaliesTotal.WithLabelValues(string(kind)).Inc()
	}
}
