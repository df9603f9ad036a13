package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(200))
	assert.Equal(t, "3xx", StatusClass(301))
	assert.Equal(t, "4xx", StatusClass(404))
	assert.Equal(t, "5xx", StatusClass(502))
}

func TestNormalizeRouteKnownPatterns(t *testing.T) {
	assert.Equal(t, "/documents/:name", NormalizeRoute("/documents/{name}"))
	assert.Equal(t, "/reindex/status/:id", NormalizeRoute("/reindex/status/{job_id}"))
}

func TestNormalizeRouteCollapsesUnknown(t *testing.T) {
	assert.Equal(t, "/other", NormalizeRoute("/unknown/{wild}/path"))
}

func TestNewRegistersAllMetricsWithoutPanicking(t *testing.T) {
	reg, promReg := New("agent", []float64{10, 100}, []float64{100, 1000})
	assert.NotNil(t, reg)
	assert.NotNil(t, promReg)

	reg.RequestsTotal.WithLabelValues("GET", "/search", "2xx").Inc()
	reg.DocumentsTotal.Set(5)
}
