// Package api wires the retrieval engine's HTTP surface: an AppState
// carrying every collaborator, a request middleware chain, and the
// route table that drives them.
package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"ragengine/internal/cache"
	"ragengine/internal/config"
	"ragengine/internal/indexing"
	"ragengine/internal/logging"
	"ragengine/internal/metrics"
	"ragengine/internal/ratelimit"
	"ragengine/internal/reindexjob"
	"ragengine/internal/retriever"
	"ragengine/internal/tracealerter"
	"ragengine/internal/webhook"
)

// AppState bundles every component the HTTP handlers and middleware need.
// Constructed once at startup in cmd/server and threaded through NewRouter.
type AppState struct {
	Config    *config.Config
	Cache     *cache.Tiers
	Retriever *retriever.Retriever
	Pipeline  *indexing.Pipeline
	Jobs      *reindexjob.Manager
	Limiter   *ratelimit.Limiter // nil when rate limiting is disabled
	MetricsReg *metrics.Registry
	PromReg   *prometheus.Registry
	Webhook   *webhook.Dispatcher
	Alerter   *tracealerter.Alerter // nil when the trace alerter is disabled
	Logger    logging.Logger
}
