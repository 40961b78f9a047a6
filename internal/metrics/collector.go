package metrics

import "sync"

// Collector is the registry of all metric primitives. Registration is
// idempotent: registering an existing name returns the shared instance, so
// any number of call sites operate on one aggregate.
type Collector struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewCollector creates an empty metrics collector.
func NewCollector() *Collector {
	return &Collector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// RegisterCounter creates or returns the counter with the given name.
func (c *Collector) RegisterCounter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.counters[name]; ok {
		return existing
	}
	counter := &Counter{name: name, help: help}
	c.counters[name] = counter
	return counter
}

// RegisterGauge creates or returns the gauge with the given name.
func (c *Collector) RegisterGauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.gauges[name]; ok {
		return existing
	}
	gauge := &Gauge{name: name, help: help}
	c.gauges[name] = gauge
	return gauge
}

// RegisterHistogram creates or returns the histogram with the given name.
// Buckets apply only on first registration.
func (c *Collector) RegisterHistogram(name, help string, buckets ...float64) *Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.histograms[name]; ok {
		return existing
	}
	histogram := newHistogram(name, help, buckets)
	c.histograms[name] = histogram
	return histogram
}

// Increment adds delta to the named counter, registering it on first use.
func (c *Collector) Increment(name string, delta float64) {
	c.mu.RLock()
	counter, ok := c.counters[name]
	c.mu.RUnlock()
	if !ok {
		counter = c.RegisterCounter(name, "")
	}
	counter.Add(delta)
}

// SetGauge sets the named gauge, registering it on first use.
func (c *Collector) SetGauge(name string, value float64) {
	c.mu.RLock()
	gauge, ok := c.gauges[name]
	c.mu.RUnlock()
	if !ok {
		gauge = c.RegisterGauge(name, "")
	}
	gauge.Set(value)
}

// Observe records a sample on the named histogram, registering it with
// default buckets on first use.
func (c *Collector) Observe(name string, value float64) {
	c.mu.RLock()
	histogram, ok := c.histograms[name]
	c.mu.RUnlock()
	if !ok {
		histogram = c.RegisterHistogram(name, "")
	}
	histogram.Observe(value)
}

// Count returns the number of registered metrics across all types.
func (c *Collector) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.counters) + len(c.gauges) + len(c.histograms)
}

// ResetAll resets every counter to zero. Gauges and histograms are left
// untouched: gauges describe current state and histograms feed long-window
// latency analysis, so only the event-flow counters restart.
func (c *Collector) ResetAll() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, counter := range c.counters {
		counter.Reset()
	}
}

// Info describes one registered metric for the read API.
type Info struct {
	Type    string   `json:"type"`
	Help    string   `json:"help,omitempty"`
	Value   float64  `json:"value"`
	Summary *Summary `json:"summary,omitempty"`
}

// Snapshot returns the state of every registered metric keyed by name.
// Histograms report their digest; counters and gauges their value.
func (c *Collector) Snapshot() map[string]Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Info, len(c.counters)+len(c.gauges)+len(c.histograms))
	for name, counter := range c.counters {
		out[name] = Info{Type: "counter", Help: counter.help, Value: counter.Value()}
	}
	for name, gauge := range c.gauges {
		out[name] = Info{Type: "gauge", Help: gauge.help, Value: gauge.Value()}
	}
	for name, histogram := range c.histograms {
		summary := histogram.Summary()
		out[name] = Info{Type: "histogram", Help: histogram.help, Value: summary.Avg, Summary: &summary}
	}
	return out
}
