package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragengine/internal/api"
	"ragengine/internal/config"
	"ragengine/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewNoOpLogger()
}

func TestBuildStateWithSkippedIndexIsNotReady(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Root = t.TempDir()
	cfg.Data.IndexInRAM = true
	cfg.Data.SkipInitialIndex = true

	state, cleanup, err := buildState(cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.False(t, state.Retriever.Ready())
}

func TestBuildStateRunsInitialIndexAndBecomesReady(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Root = t.TempDir()
	cfg.Data.IndexInRAM = true

	require.NoError(t, os.MkdirAll(cfg.Data.DocumentsDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Data.DocumentsDir(), "a.txt"), []byte("hello world, this is a test document."), 0o644))

	state, cleanup, err := buildState(cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	result, err := state.Pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Docs)
	assert.Greater(t, result.Chunks, 0)
	assert.True(t, state.Retriever.Ready())
}

func TestLoadVectorSnapshotMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data.Root = dir
	cfg.Data.IndexInRAM = true
	cfg.Data.SkipInitialIndex = true

	state, cleanup, err := buildState(cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.False(t, state.Retriever.Ready())
}

func TestMonitoringEndpointsServeOverBuiltRouter(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Root = t.TempDir()
	cfg.Data.IndexInRAM = true
	cfg.Data.SkipInitialIndex = true

	state, cleanup, err := buildState(cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	srv := httptest.NewServer(api.NewRouter(state))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/monitoring/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	readyResp, err := srv.Client().Get(srv.URL + "/monitoring/ready")
	require.NoError(t, err)
	defer readyResp.Body.Close()
	assert.Equal(t, 503, readyResp.StatusCode)
}
