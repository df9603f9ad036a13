package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragengine/internal/cache"
	"ragengine/internal/chunking"
	"ragengine/internal/config"
	"ragengine/internal/embeddings"
	"ragengine/internal/index"
	"ragengine/internal/indexing"
	"ragengine/internal/logging"
	"ragengine/internal/metrics"
	"ragengine/internal/reindexjob"
	"ragengine/internal/retriever"
	"ragengine/internal/vectorstore"
)

func newTestState(t *testing.T) *AppState {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data.Root = dir
	cfg.Data.IndexInRAM = true

	idx, err := index.NewService("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	embedder := embeddings.NewHashingEmbedder(16)
	vectors := vectorstore.New(16)
	tiers, err := cache.New(cache.Config{L2Capacity: 64, L2TTL: time.Minute}, logging.NewNoOpLogger())
	require.NoError(t, err)

	reg, promReg := metrics.New("test", nil, nil)
	r := retriever.New(idx, vectors, tiers, embedder, reg, logging.NewNoOpLogger(), 0.5)

	chunker, err := chunking.NewService(chunking.Config{Mode: chunking.ModeFixed, TargetSize: 64}, embedder)
	require.NoError(t, err)

	pipeline := indexing.New(cfg.Data.DocumentsDir(), chunker, embedder, nil, r, logging.NewNoOpLogger())
	jobs := reindexjob.New(nil, logging.NewNoOpLogger())

	return &AppState{
		Config:     cfg,
		Retriever:  r,
		Pipeline:   pipeline,
		Jobs:       jobs,
		MetricsReg: reg,
		PromReg:    promReg,
		Logger:     logging.NewNoOpLogger(),
	}
}

func TestHealthAlwaysOK(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/monitoring/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyBeforeAnyCommitIs503(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/monitoring/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUploadListAndDeleteDocument(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	body, contentType := multipartFile(t, "files", "note.txt", "hello world")
	resp, err := http.Post(srv.URL+"/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/documents")
	require.NoError(t, err)
	defer listResp.Body.Close()
	assert.Equal(t, http.StatusOK, listResp.StatusCode)

	_, err = os.Stat(filepath.Join(state.Config.Data.DocumentsDir(), "note.txt"))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/documents/note.txt", nil)
	require.NoError(t, err)
	delResp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	_, err = os.Stat(filepath.Join(state.Config.Data.DocumentsDir(), "note.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteUnknownDocumentIs404(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/documents/missing.txt", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSearchBeforeReindexReturnsNotReady(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/search?q=hello")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestReindexThenSearchFindsDocument(t *testing.T) {
	state := newTestState(t)
	require.NoError(t, os.MkdirAll(state.Config.Data.DocumentsDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(state.Config.Data.DocumentsDir(), "a.txt"), []byte("the quick brown fox jumps over the lazy dog"), 0o644))

	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/reindex", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	searchResp, err := http.Get(srv.URL + "/search?q=fox")
	require.NoError(t, err)
	defer searchResp.Body.Close()
	assert.Equal(t, http.StatusOK, searchResp.StatusCode)
}

func TestReindexAsyncReturnsPollableJob(t *testing.T) {
	state := newTestState(t)
	require.NoError(t, os.MkdirAll(state.Config.Data.DocumentsDir(), 0o755))

	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/reindex/async", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestReindexStatusUnknownJobIs404(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/reindex/status/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCorrelationEchoesRequestID(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/monitoring/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "fixed-id")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "fixed-id", resp.Header.Get("X-Request-ID"))
}

func TestCorrelationGeneratesIDWhenAbsent(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/monitoring/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMetricsEndpointServesPrometheusExposition(t *testing.T) {
	state := newTestState(t)
	srv := httptest.NewServer(NewRouter(state))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/monitoring/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func multipartFile(t *testing.T, field, filename, content string) (io.Reader, string) {
	t.Helper()
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		defer writer.Close()
		part, err := writer.CreateFormFile(field, filename)
		if err != nil {
			return
		}
		_, _ = part.Write([]byte(content))
	}()
	return pr, writer.FormDataContentType()
}
