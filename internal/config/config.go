// Package config provides typed, environment-driven configuration for the
// retrieval engine, handling .env files and process environment variables
// with warned (not silently dropped) fallback to defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperr "ragengine/internal/errors"
	"ragengine/internal/logging"
)

// Config is the single typed configuration object assembled once at
// process startup and threaded through AppState.
type Config struct {
	Server    ServerConfig
	Data      DataConfig
	Chunking  ChunkingConfig
	Embedding EmbeddingConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
	Webhook   WebhookConfig
	Logging   LoggingConfig
}

// ServerConfig configures the bind address.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DataConfig resolves the on-disk data root and indexing behavior.
type DataConfig struct {
	Root               string
	IndexInRAM         bool
	SkipInitialIndex   bool
	WatchDocuments     bool
}

// DocumentsDir, IndexDir, VectorsPath are the well-known paths under Root.
func (d DataConfig) DocumentsDir() string { return filepath.Join(d.Root, "documents") }
func (d DataConfig) IndexDir() string     { return filepath.Join(d.Root, "index") }
func (d DataConfig) VectorsPath() string  { return filepath.Join(d.Root, "vectors.json") }

// ChunkingConfig configures the Chunker.
type ChunkingConfig struct {
	Mode       string // fixed | lightweight | semantic
	TargetSize int
}

// EmbeddingConfig configures the embedder adapter.
type EmbeddingConfig struct {
	Dimension int
	Timeout   time.Duration
	CacheSize int
}

// CacheConfig configures the L1/L2/L3 cache tiers.
type CacheConfig struct {
	L2Capacity        int
	L2TTL             time.Duration
	RedisEnabled      bool
	RedisURL          string
	RedisTTL          time.Duration
	SearchHistogram   []float64
	ReindexHistogram  []float64
}

// RateLimitConfig configures the token-bucket limiter.
type RateLimitConfig struct {
	Enabled           bool
	DefaultSearchQPS  float64
	DefaultSearchBurst float64
	DefaultUploadQPS  float64
	DefaultUploadBurst float64
	LRUCapacity       int
	ExemptPrefixes    []string
	RoutesJSON        string
	RoutesFile        string
	TrustProxy        bool
}

// TracingConfig configures the optional trace alerter.
type TracingConfig struct {
	AlerterEnabled      bool
	SlowSpanThresholdMS int64
}

// WebhookConfig configures the reindex-completion webhook.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	JSON           bool
	FilterDirective string
}

// defaultHistogramMS are the bucket boundaries used when an env override
// is absent or fully invalid.
var defaultHistogramMS = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Default returns the configuration with every documented default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 3010},
		Data:   DataConfig{Root: "./data"},
		Chunking: ChunkingConfig{
			Mode:       "fixed",
			TargetSize: 384,
		},
		Embedding: EmbeddingConfig{
			Dimension: 384,
			Timeout:   10 * time.Second,
			CacheSize: 1000,
		},
		Cache: CacheConfig{
			L2Capacity:       4096,
			L2TTL:            600 * time.Second,
			RedisEnabled:     false,
			RedisTTL:         3600 * time.Second,
			SearchHistogram:  defaultHistogramMS,
			ReindexHistogram: defaultHistogramMS,
		},
		RateLimit: RateLimitConfig{
			Enabled:            false,
			DefaultSearchQPS:   5,
			DefaultSearchBurst: 10,
			DefaultUploadQPS:   1,
			DefaultUploadBurst: 3,
			LRUCapacity:        1024,
			ExemptPrefixes:     []string{"/", "/monitoring/health", "/monitoring/ready", "/monitoring/metrics"},
		},
		Tracing: TracingConfig{
			AlerterEnabled:      false,
			SlowSpanThresholdMS: 2000,
		},
		Logging: LoggingConfig{JSON: true},
	}
}

// Load reads an optional .env file then the process environment, applying
// overrides onto Default(). Malformed values are warned and ignored,
// except histogram bucket lists, which are parsed leniently.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, apperr.Wrap(apperr.CodeConfig, "failed to load .env", err)
	}

	cfg := Default()
	log := logging.WithComponent("config")

	cfg.Server.Host = envString("BACKEND_HOST", cfg.Server.Host)
	cfg.Server.Port = envInt(log, "BACKEND_PORT", cfg.Server.Port)

	if root := os.Getenv("DATA_ROOT"); root != "" {
		cfg.Data.Root = root
	}
	cfg.Data.IndexInRAM = envBool(log, "INDEX_IN_RAM", cfg.Data.IndexInRAM)
	cfg.Data.SkipInitialIndex = envBool(log, "SKIP_INITIAL_INDEXING", cfg.Data.SkipInitialIndex)
	cfg.Data.WatchDocuments = envBool(log, "WATCH_DOCUMENTS", cfg.Data.WatchDocuments)

	cfg.Chunking.Mode = envEnum(log, "CHUNKER_MODE", cfg.Chunking.Mode, "fixed", "lightweight", "semantic")
	cfg.Chunking.TargetSize = envInt(log, "CHUNK_TARGET_SIZE", cfg.Chunking.TargetSize)

	cfg.Cache.L2Capacity = envInt(log, "CACHE_L2_CAPACITY", cfg.Cache.L2Capacity)
	cfg.Cache.L2TTL = envSeconds(log, "CACHE_L2_TTL_SECS", cfg.Cache.L2TTL)
	cfg.Cache.RedisEnabled = envBool(log, "REDIS_ENABLED", cfg.Cache.RedisEnabled)
	cfg.Cache.RedisURL = envString("REDIS_URL", cfg.Cache.RedisURL)
	cfg.Cache.RedisTTL = envSeconds(log, "REDIS_TTL", cfg.Cache.RedisTTL)
	cfg.Cache.SearchHistogram = envHistogram(log, "SEARCH_HISTO_BUCKETS", cfg.Cache.SearchHistogram)
	cfg.Cache.ReindexHistogram = envHistogram(log, "REINDEX_HISTO_BUCKETS", cfg.Cache.ReindexHistogram)

	cfg.RateLimit.Enabled = envBool(log, "RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	if qps := os.Getenv("RATE_LIMIT_QPS"); qps != "" {
		v := envFloat(log, "RATE_LIMIT_QPS", cfg.RateLimit.DefaultSearchQPS)
		cfg.RateLimit.DefaultSearchQPS = v
		cfg.RateLimit.DefaultUploadQPS = v
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		v := envFloat(log, "RATE_LIMIT_BURST", cfg.RateLimit.DefaultSearchBurst)
		cfg.RateLimit.DefaultSearchBurst = v
		cfg.RateLimit.DefaultUploadBurst = v
	}
	cfg.RateLimit.LRUCapacity = envInt(log, "RATE_LIMIT_LRU_CAPACITY", cfg.RateLimit.LRUCapacity)
	cfg.RateLimit.RoutesJSON = envString("RATE_LIMIT_ROUTES", cfg.RateLimit.RoutesJSON)
	cfg.RateLimit.RoutesFile = envString("RATE_LIMIT_ROUTES_FILE", cfg.RateLimit.RoutesFile)
	if prefixes := os.Getenv("RATE_LIMIT_EXEMPT_PREFIXES"); prefixes != "" {
		cfg.RateLimit.ExemptPrefixes = splitNonEmpty(prefixes, ",")
	}
	cfg.RateLimit.TrustProxy = envBool(log, "TRUST_PROXY", cfg.RateLimit.TrustProxy)

	cfg.Embedding.Dimension = envInt(log, "EMBEDDING_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.CacheSize = envInt(log, "EMBEDDING_CACHE_SIZE", cfg.Embedding.CacheSize)

	cfg.Tracing.AlerterEnabled = envBool(log, "TRACE_ALERTER_ENABLED", cfg.Tracing.AlerterEnabled)
	cfg.Tracing.SlowSpanThresholdMS = int64(envInt(log, "TRACE_SLOW_SPAN_THRESHOLD_MS", int(cfg.Tracing.SlowSpanThresholdMS)))

	cfg.Webhook.URL = envString("REINDEX_WEBHOOK_URL", "")
	cfg.Webhook.Timeout = 3 * time.Second

	cfg.Logging.FilterDirective = envString("RUST_LOG", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configuration combinations that cannot be served.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperr.Newf(apperr.CodeConfig, "invalid BACKEND_PORT %d", c.Server.Port)
	}
	if c.Chunking.TargetSize <= 0 {
		return apperr.Newf(apperr.CodeConfig, "invalid CHUNK_TARGET_SIZE %d", c.Chunking.TargetSize)
	}
	if c.Cache.RedisEnabled && c.Cache.RedisURL == "" {
		return apperr.New(apperr.CodeConfig, "REDIS_ENABLED=true requires REDIS_URL")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(log logging.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("invalid integer env value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envFloat(log logging.Logger, key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn("invalid float env value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func envBool(log logging.Logger, key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn("invalid boolean env value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envSeconds(log logging.Logger, key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("invalid duration-seconds env value, using default", "key", key, "value", v)
		return def
	}
	return time.Duration(n) * time.Second
}

func envEnum(log logging.Logger, key, def string, allowed ...string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	log.Warn("unrecognized enum env value, using default", "key", key, "value", v, "default", def)
	return def
}

// envHistogram parses a comma-separated bucket list leniently:
// invalid tokens are warned and dropped; if nothing valid
// remains, the prior default list is returned unchanged.
func envHistogram(log logging.Logger, key string, def []float64) []float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []float64
	invalid := 0
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			invalid++
			continue
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			invalid++
			continue
		}
		out = append(out, f)
	}
	if invalid > 0 {
		log.Warn("dropped invalid histogram bucket tokens", "key", key, "raw", raw)
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
