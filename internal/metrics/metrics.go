// Package metrics provides named, thread-safe counters, gauges, and
// histograms with a Prometheus-compatible text exposition. Primitives are
// created once ("create-or-get" by name) and mutated in place for the life
// of the process. The package is self-contained on purpose: the sidecar
// needs resettable counters, bounded raw-sample percentile windows, and
// read-time pull gauges merged into one exposition, none of which the
// standard Prometheus client models.
package metrics

import (
	"math"
	"sort"
	"sync"
)

// Counter is a monotonically increasing value with an explicit reset.
type Counter struct {
	mu    sync.Mutex
	name  string
	help  string
	value float64
}

// Inc increments the counter by one.
func (c *Counter) Inc() { c.Add(1) }

// Add increments the counter by delta. Negative deltas are ignored:
// counters only move forward outside an explicit Reset.
func (c *Counter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

// Value returns the current count.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Reset sets the counter back to zero.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.value = 0
	c.mu.Unlock()
}

// Gauge is a value that can go up and down.
type Gauge struct {
	mu    sync.Mutex
	name  string
	help  string
	value float64
}

// Set replaces the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by one.
func (g *Gauge) Inc() {
	g.mu.Lock()
	g.value++
	g.mu.Unlock()
}

// Dec decrements the gauge by one.
func (g *Gauge) Dec() {
	g.mu.Lock()
	g.value--
	g.mu.Unlock()
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// histogramWindow bounds the raw-sample buffer used for percentile
// estimation. The running sum/count for the mean is deliberately unbounded:
// the two statistics cover different windows and may disagree under
// sustained load. Downstream consumers rely on both figures as they are.
const histogramWindow = 10000

// defaultBuckets are the less-or-equal upper bounds used when a histogram is
// registered without explicit buckets. Suited to latencies in seconds.
var defaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Histogram tracks a distribution of observations: cumulative bucket counts
// and all-time min/max/sum/count, plus a bounded window of raw samples for
// percentile estimation (oldest evicted past the window size).
type Histogram struct {
	mu   sync.Mutex
	name string
	help string

	buckets      []float64 // sorted upper bounds
	bucketCounts []uint64  // observations <= buckets[i], non-cumulative per slot

	window     []float64 // ring buffer of recent raw samples
	windowNext int
	windowFull bool

	sum   float64
	count uint64
	min   float64
	max   float64
}

func newHistogram(name, help string, buckets []float64) *Histogram {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)

	return &Histogram{
		name:         name,
		help:         help,
		buckets:      sorted,
		bucketCounts: make([]uint64, len(sorted)),
		min:          math.Inf(1),
		max:          math.Inf(-1),
	}
}

// Observe records one sample.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	if v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}

	// First bucket whose upper bound admits the sample.
	idx := sort.SearchFloat64s(h.buckets, v)
	if idx < len(h.bucketCounts) {
		h.bucketCounts[idx]++
	}

	if len(h.window) < histogramWindow {
		h.window = append(h.window, v)
		return
	}
	h.window[h.windowNext] = v
	h.windowNext = (h.windowNext + 1) % histogramWindow
	h.windowFull = true
}

// Summary is a point-in-time digest of a histogram. Avg covers every
// observation ever made; the percentiles cover only the retained window.
type Summary struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// Summary computes the histogram digest.
func (h *Histogram) Summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Summary{Count: h.count, Sum: h.sum}
	if h.count == 0 {
		return s
	}

	s.Min = h.min
	s.Max = h.max
	s.Avg = h.sum / float64(h.count)

	samples := make([]float64, len(h.window))
	copy(samples, h.window)
	sort.Float64s(samples)

	s.P50 = percentile(samples, 0.50)
	s.P90 = percentile(samples, 0.90)
	s.P99 = percentile(samples, 0.99)
	return s
}

// percentile returns the p-th percentile (p in [0,1]) of sorted samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// snapshotExport captures the exposition-relevant state under the lock:
// cumulative le counts aligned with buckets, plus sum and count.
func (h *Histogram) snapshotExport() (cumulative []uint64, sum float64, count uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cumulative = make([]uint64, len(h.bucketCounts))
	var running uint64
	for i, c := range h.bucketCounts {
		running += c
		cumulative[i] = running
	}
	return cumulative, h.sum, h.count
}
