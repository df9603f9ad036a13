// Package ratelimit implements the engine's per-client token-bucket rate
// limiter: continuous refill, an LRU of buckets bounded by capacity, and
// an ordered rule table mapping routes to qps/burst classes.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MatchKind selects how a Rule's Pattern is compared against a request
// path.
type MatchKind string

const (
	MatchExact  MatchKind = "exact"
	MatchPrefix MatchKind = "prefix"
)

// Rule is one entry of the ordered routing policy; the first Rule whose
// Pattern matches a request wins.
type Rule struct {
	Pattern   string
	MatchKind MatchKind
	QPS       float64
	Burst     float64
	Label     string
}

// Class is the fallback classification used when no Rule matches.
type Class struct {
	QPS   float64
	Burst float64
	Label string
}

// Config carries the limiter's tunables, mirroring internal/config's
// RateLimitConfig.
type Config struct {
	LRUCapacity    int
	ExemptPrefixes []string
	Rules          []Rule
	SearchClass    Class
	UploadClass    Class
	TrustProxy     bool
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed    bool
	Label      string
	RetryAfter time.Duration
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	qps      float64
	burst    float64
	lastFill time.Time
}

func (b *bucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.burst, b.tokens+elapsed*b.qps)
		b.lastFill = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Limiter is the concurrency-safe token-bucket limiter keyed by client.
type Limiter struct {
	cfg     Config
	buckets *lru.Cache[string, *bucket]
	mu      sync.Mutex // guards bucket creation races
}

// New constructs a Limiter. A zero LRUCapacity defaults to 1024.
func New(cfg Config) (*Limiter, error) {
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1024
	}
	buckets, err := lru.New[string, *bucket](cfg.LRUCapacity)
	if err != nil {
		return nil, err
	}
	return &Limiter{cfg: cfg, buckets: buckets}, nil
}

// IsExempt reports whether path matches one of the configured exempt
// prefixes.
func (l *Limiter) IsExempt(path string) bool {
	for _, prefix := range l.cfg.ExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// classify applies the ordered rule table, falling back to the
// upload/search class split on method and path.
func (l *Limiter) classify(method, path string) (qps, burst float64, label string) {
	for _, r := range l.cfg.Rules {
		switch r.MatchKind {
		case MatchExact:
			if path == r.Pattern {
				return r.QPS, r.Burst, r.Label
			}
		case MatchPrefix:
			if strings.HasPrefix(path, r.Pattern) {
				return r.QPS, r.Burst, r.Label
			}
		}
	}

	if method == http.MethodPost || method == http.MethodDelete ||
		strings.HasPrefix(path, "/upload") || strings.HasPrefix(path, "/reindex") || strings.HasPrefix(path, "/save_vectors") {
		return l.cfg.UploadClass.QPS, l.cfg.UploadClass.Burst, l.cfg.UploadClass.Label
	}
	return l.cfg.SearchClass.QPS, l.cfg.SearchClass.Burst, l.cfg.SearchClass.Label
}

// Check consumes one token from clientKey's bucket and labels the decision
// with the rule class matching method/path. Each client has one bucket,
// created (seeded to burst) on first use with the qps/burst of that first
// request's class; later requests draw from it whatever their class.
// Checking never mutates any state beyond the bucket itself, so a
// caller can drop the request without any other side effect.
func (l *Limiter) Check(clientKey, method, path string) Decision {
	qps, burst, label := l.classify(method, path)

	b := l.bucketFor(clientKey, qps, burst)
	if b.take(time.Now()) {
		return Decision{Allowed: true, Label: label}
	}

	retryAfter := time.Duration(math.Ceil(1/qps)) * time.Second
	return Decision{Allowed: false, Label: label, RetryAfter: retryAfter}
}

func (l *Limiter) bucketFor(key string, qps, burst float64) *bucket {
	if b, ok := l.buckets.Get(key); ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	b := &bucket{tokens: burst, qps: qps, burst: burst, lastFill: time.Now()}
	l.buckets.Add(key, b)
	return b
}

// ClientKey derives the rate-limit identity for an inbound request: when
// trustProxy is set, the first hop of X-Forwarded-For, else the first
// for= token of Forwarded, else the socket remote address; otherwise
// always the socket remote address.
func ClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
		if fwd := r.Header.Get("Forwarded"); fwd != "" {
			if key := parseForwardedFor(fwd); key != "" {
				return key
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseForwardedFor returns the for= value of the first hop in a
// Forwarded header, e.g. `for=192.0.2.1;proto=https, for=10.0.0.1`.
func parseForwardedFor(header string) string {
	firstHop := strings.Split(header, ",")[0]
	for _, part := range strings.Split(firstHop, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "for=") {
			v := strings.TrimSpace(part[len("for="):])
			return strings.Trim(v, `"`)
		}
	}
	return ""
}
