package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 3010, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:3010", cfg.Server.Addr())
	assert.Equal(t, "fixed", cfg.Chunking.Mode)
	assert.Equal(t, 384, cfg.Chunking.TargetSize)
	assert.Equal(t, 4096, cfg.Cache.L2Capacity)
	assert.False(t, cfg.Cache.RedisEnabled)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"/", "/monitoring/health", "/monitoring/ready", "/monitoring/metrics"}, cfg.RateLimit.ExemptPrefixes)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("BACKEND_PORT", "9090")
	t.Setenv("CHUNKER_MODE", "lightweight")
	t.Setenv("CACHE_L2_CAPACITY", "128")
	t.Setenv("RATE_LIMIT_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "lightweight", cfg.Chunking.Mode)
	assert.Equal(t, 128, cfg.Cache.L2Capacity)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWarnsAndKeepsDefaultOnInvalidInt(t *testing.T) {
	t.Setenv("BACKEND_PORT", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3010, cfg.Server.Port)
}

func TestHistogramBucketsLenientParsing(t *testing.T) {
	t.Setenv("SEARCH_HISTO_BUCKETS", "10,abc,,100")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 100}, cfg.Cache.SearchHistogram)
}

func TestHistogramBucketsAllInvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("REINDEX_HISTO_BUCKETS", ",,")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultHistogramMS, cfg.Cache.ReindexHistogram)
}

func TestValidateRejectsRedisEnabledWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.Cache.RedisEnabled = true
	cfg.Cache.RedisURL = ""
	require.Error(t, cfg.Validate())
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
