package profiler

import (
	"time"

	"go.uber.org/zap"
)

// deepCPUWindow is the blocking measurement window used per deep reading.
// Lightweight profiling uses interval-0 delta readings instead.
const deepCPUWindow = 100 * time.Millisecond

// DeepProfiler is a higher-overhead profiler variant. Each reading blocks
// for a short CPU measurement window, and the loop disables itself once the
// enablement window elapses.
type DeepProfiler struct {
	*Profiler
}

// NewDeep creates a deep profiler sampling every interval.
func NewDeep(interval time.Duration, logger *zap.Logger) *DeepProfiler {
	p := New(interval, logger)
	p.cpuWindow = deepCPUWindow
	return &DeepProfiler{Profiler: p}
}

// Enable starts deep collection for at most window. The sampling loop stops
// itself on the first tick past the deadline; Disable cuts it short.
func (d *DeepProfiler) Enable(window time.Duration) {
	d.mu.Lock()
	d.expiry = d.now().Add(window)
	d.mu.Unlock()

	d.Start()
	d.logger.Info("Deep profiling enabled", zap.Duration("window", window))
}

// Disable stops deep collection before the window elapses.
func (d *DeepProfiler) Disable() {
	d.mu.Lock()
	d.expiry = time.Time{}
	d.mu.Unlock()

	d.Stop()
	d.logger.Info("Deep profiling disabled")
}
