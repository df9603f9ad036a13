// Package metrics is the engine's typed observability registry: request
// latency histograms, reindex counters, cache and rate-limit gauges, all
// exported as Prometheus text exposition.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the engine emits.
type Registry struct {
	RequestLatencyMS *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec

	RateLimitDropsTotal        prometheus.Counter
	RateLimitDropsByRouteTotal *prometheus.CounterVec

	DocumentsTotal      prometheus.Gauge
	ChunksTotal         prometheus.Gauge
	VectorsTotal        prometheus.Gauge
	ReindexDurationMS   *prometheus.HistogramVec
	ReindexTotal        *prometheus.CounterVec
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	EmbedderLatencyMS   prometheus.Histogram
	TraceAnomaliesTotal *prometheus.CounterVec

	GoroutinesGauge prometheus.Gauge
	HeapBytesGauge  prometheus.Gauge
	OpenFilesGauge  prometheus.Gauge
}

// New constructs and registers every metric against a fresh registry
// under the given namespace. searchBuckets/reindexBuckets come from the
// engine's env-configurable histogram bucket lists.
func New(namespace string, searchBuckets, reindexBuckets []float64) (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		RequestLatencyMS: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_ms",
				Help:      "HTTP request latency in milliseconds, by method/route/status class.",
				Buckets:   searchBuckets,
			},
			[]string{"method", "route", "status_class"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total HTTP requests by method/route/status class.",
			},
			[]string{"method", "route", "status_class"},
		),
		RateLimitDropsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_drops_total",
				Help:      "Total requests rejected by the rate limiter.",
			},
		),
		RateLimitDropsByRouteTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_drops_by_route_total",
				Help:      "Requests rejected by the rate limiter, by route label.",
			},
			[]string{"route"},
		),
		DocumentsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "documents_total", Help: "Documents currently indexed.",
		}),
		ChunksTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "chunks_total", Help: "Chunks currently indexed.",
		}),
		VectorsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "vectors_total", Help: "Vectors currently held by the vector store.",
		}),
		ReindexDurationMS: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reindex_duration_ms",
				Help:      "Duration of completed atomic reindex operations in milliseconds.",
				Buckets:   reindexBuckets,
			},
			[]string{"status"},
		),
		ReindexTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Name: "reindex_total", Help: "Total reindex attempts by outcome.",
			},
			[]string{"status"},
		),
		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Name: "cache_hits_total", Help: "Query cache hits by tier.",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Name: "cache_misses_total", Help: "Query cache misses by tier.",
			},
			[]string{"tier"},
		),
		EmbedderLatencyMS: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedder_latency_ms",
			Help:      "Latency of embedder calls in milliseconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		TraceAnomaliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Name: "trace_anomalies_total", Help: "Anomalous spans flagged by the trace alerter, by kind.",
			},
			[]string{"kind"},
		),
		GoroutinesGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "goroutines", Help: "Live goroutines, sampled periodically.",
		}),
		HeapBytesGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "heap_bytes", Help: "Heap bytes allocated, sampled periodically.",
		}),
		OpenFilesGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_files", Help: "Open file descriptors, sampled periodically.",
		}),
	}, reg
}

// Handler returns the /monitoring/metrics exposition handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// StatusClass buckets an HTTP status code into the "2xx".."5xx" family
// span attributes and metric labels share.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// knownRoutes is the bounded route normalization map: raw chi
// route patterns collapse to a small, fixed label set so per-path
// cardinality can never leak into the metric registry.
var knownRoutes = map[string]string{
	"/upload":                      "/upload",
	"/documents":                   "/documents",
	"/documents/{name}":            "/documents/:name",
	"/search":                      "/search",
	"/rerank":                      "/rerank",
	"/reindex":                     "/reindex",
	"/reindex/async":               "/reindex/async",
	"/reindex/status/{job_id}":     "/reindex/status/:id",
	"/index/info":                  "/index/info",
	"/monitoring/health":           "/monitoring/health",
	"/monitoring/ready":            "/monitoring/ready",
	"/monitoring/metrics":          "/monitoring/metrics",
}

// NormalizeRoute maps a matched chi route pattern to its bounded metric
// label, collapsing anything unrecognized to "/other".
func NormalizeRoute(pattern string) string {
	if label, ok := knownRoutes[pattern]; ok {
		return label
	}
	return "/other"
}
