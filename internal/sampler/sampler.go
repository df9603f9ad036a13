// Package sampler implements the optional 60s resource sampler:
// periodic goroutine count, heap usage, and open-file-descriptor gauges
// fed into the Observability Registry.
package sampler

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"ragengine/internal/metrics"
)

// Interval is the sampler.s fixed poll cadence.
const Interval = 60 * time.Second

// Sampler periodically records process resource usage.
type Sampler struct {
	reg *metrics.Registry
}

// New constructs a Sampler over an existing Observability Registry.
func New(reg *metrics.Registry) *Sampler {
	return &Sampler{reg: reg}
}

// Run blocks, sampling every Interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	s.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	if s.reg == nil {
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.reg.GoroutinesGauge.Set(float64(runtime.NumGoroutine()))
	s.reg.HeapBytesGauge.Set(float64(mem.HeapAlloc))
	s.reg.OpenFilesGauge.Set(float64(countOpenFiles()))
}

// countOpenFiles reports the number of entries under /proc/self/fd on
// platforms that expose it, and 0 elsewhere (e.g. non-Linux sandboxes
// without /proc), matching the gauge's "best-effort" nature.
func countOpenFiles() int {
	entries, err := os.ReadDir(filepath.Join(string(os.PathSeparator), "proc", "self", "fd"))
	if err != nil {
		return 0
	}
	return len(entries)
}
