package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ragengine/internal/metrics"
	"ragengine/internal/ratelimit"
	"ragengine/pkg/types"
)

type ctxKey string

const requestIDCtxKey ctxKey = "request_id"

// RequestIDFromContext returns the correlation id attached by Correlation,
// or "" if the request never passed through it (e.g. in a unit test that
// calls a handler directly).
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// Correlation is the first link of the middleware chain: it assigns
// every request a stable id, preferring an inbound X-Request-ID, then the
// trace id of a W3C traceparent header, and generating a fresh uuid only
// when neither is present. The id is echoed back on the response and
// threaded through the request context for the Span and handler layers.
func (s *AppState) Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = traceIDFromTraceparent(r.Header.Get("traceparent"))
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDCtxKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// traceIDFromTraceparent extracts the trace-id field of a W3C traceparent
// header ("version-traceid-parentid-flags"), returning "" if the header is
// absent or malformed.
func traceIDFromTraceparent(header string) string {
	parts := strings.Split(header, "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	return parts[1]
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Span is the request-observability layer: it opens an http_request span
// with method/route/client_ip/request_id/user_agent attributes, closes it
// once the handler completes with status_class/duration_ms/error, feeds
// the trace alerter's window, and applies NormalizeRoute so span
// attribution carries the same bounded route label the metrics use.
func (s *AppState) Span(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		routeCtx := chi.RouteContext(r.Context())
		route := "/other"
		if routeCtx != nil {
			route = metrics.NormalizeRoute(routeCtx.RoutePattern())
		}
		statusClass := metrics.StatusClass(rec.status)

		span := types.Span{
			SpanID:      uuid.NewString(),
			RequestID:   RequestIDFromContext(r.Context()),
			Start:       start,
			End:         time.Now(),
			Method:      r.Method,
			Route:       route,
			StatusClass: statusClass,
			ClientIP:    ratelimit.ClientKey(r, s.Config.RateLimit.TrustProxy),
			UserAgent:   r.UserAgent(),
			Error:       rec.status >= 400,
		}
		if s.Alerter != nil {
			s.Alerter.RecordSpan(span)
		}
	})
}

// RateLimit consumes one token from the client's bucket for the matched
// route class, rejecting over-budget requests with 429 before any
// downstream work runs. Exempt prefixes (health/readiness/metrics) and a
// disabled limiter both bypass the check entirely. This middleware never
// mutates state beyond the token bucket itself: a dropped request has
// no other side effect.
func (s *AppState) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil || s.Limiter.IsExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := ratelimit.ClientKey(r, s.Config.RateLimit.TrustProxy)
		decision := s.Limiter.Check(key, r.Method, r.URL.Path)
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		routeCtx := chi.RouteContext(r.Context())
		route := "/other"
		if routeCtx != nil {
			route = metrics.NormalizeRoute(routeCtx.RoutePattern())
		}
		if s.MetricsReg != nil {
			s.MetricsReg.RateLimitDropsTotal.Inc()
			s.MetricsReg.RateLimitDropsByRouteTotal.WithLabelValues(route).Inc()
		}

		w.Header().Set("Retry-After", formatRetryAfterSeconds(decision.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"status":      "rate_limited",
			"message":     "rate limit exceeded for " + decision.Label,
			"retry_after": int(decision.RetryAfter.Seconds()),
		})
	})
}

func formatRetryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// Metrics observes per-request latency and outcome into the Observability
// Registry, bucketed by the same bounded route label Span uses so request
// volume and latency/outcome counters never diverge in cardinality.
func (s *AppState) Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if s.MetricsReg == nil {
			return
		}
		routeCtx := chi.RouteContext(r.Context())
		route := "/other"
		if routeCtx != nil {
			route = metrics.NormalizeRoute(routeCtx.RoutePattern())
		}
		statusClass := metrics.StatusClass(rec.status)
		elapsedMS := float64(time.Since(start).Milliseconds())

		s.MetricsReg.RequestLatencyMS.WithLabelValues(r.Method, route, statusClass).Observe(elapsedMS)
		s.MetricsReg.RequestsTotal.WithLabelValues(r.Method, route, statusClass).Inc()
	})
}
