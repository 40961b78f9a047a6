package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestRegisterCounter_CreateOrGet(t *testing.T) {
	c := NewCollector()

	first := c.RegisterCounter("events_total", "total events")
	second := c.RegisterCounter("events_total", "ignored on second call")

	if first != second {
		t.Fatal("expected RegisterCounter to return the same counter for the same name")
	}

	first.Add(3)
	second.Add(2)
	c.Increment("events_total", 1)

	if got := first.Value(); got != 6 {
		t.Errorf("Value() = %v, want 6 (all handles share one aggregate)", got)
	}
	if got := c.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestRegisterHistogram_CreateOrGet(t *testing.T) {
	c := NewCollector()

	first := c.RegisterHistogram("latency_seconds", "", 1, 2)
	second := c.RegisterHistogram("latency_seconds", "", 100, 200)

	if first != second {
		t.Fatal("expected RegisterHistogram to return the same histogram for the same name")
	}
	if len(first.buckets) != 2 || first.buckets[1] != 2 {
		t.Errorf("buckets = %v, want first registration's {1, 2}", first.buckets)
	}
}

func TestCounter_AddIgnoresNegative(t *testing.T) {
	var c Counter
	c.Add(5)
	c.Add(-3)
	c.Inc()

	if got := c.Value(); got != 6 {
		t.Errorf("Value() = %v, want 6", got)
	}
}

func TestGauge_SetIncDec(t *testing.T) {
	var g Gauge
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()

	if got := g.Value(); got != 9 {
		t.Errorf("Value() = %v, want 9", got)
	}
}

func TestHistogram_Percentiles(t *testing.T) {
	h := newHistogram("test", "", nil)
	for i := 1; i <= 100; i++ {
		h.Observe(float64(i))
	}

	s := h.Summary()
	if s.Count != 100 {
		t.Fatalf("Count = %d, want 100", s.Count)
	}
	if s.Min != 1 || s.Max != 100 {
		t.Errorf("Min, Max = %v, %v, want 1, 100", s.Min, s.Max)
	}
	if s.Avg != 50.5 {
		t.Errorf("Avg = %v, want 50.5", s.Avg)
	}
	if s.P50 < 50 || s.P50 > 51 {
		t.Errorf("P50 = %v, want within [50, 51]", s.P50)
	}
	if s.P90 < 90 || s.P90 > 91 {
		t.Errorf("P90 = %v, want within [90, 91]", s.P90)
	}
	if s.P99 < 99 || s.P99 > 100 {
		t.Errorf("P99 = %v, want within [99, 100]", s.P99)
	}
}

func TestHistogram_EmptySummary(t *testing.T) {
	h := newHistogram("test", "", nil)
	s := h.Summary()
	if s.Count != 0 || s.Sum != 0 || s.Min != 0 || s.Max != 0 {
		t.Errorf("empty summary = %+v, want all zeros", s)
	}
}

func TestHistogram_WindowEvictsOldest(t *testing.T) {
	h := newHistogram("test", "", nil)

	// One outlier followed by enough samples to push it out of the window.
	h.Observe(1e6)
	for i := 0; i < histogramWindow; i++ {
		h.Observe(1)
	}

	s := h.Summary()
	if s.Count != uint64(histogramWindow)+1 {
		t.Fatalf("Count = %d, want %d", s.Count, histogramWindow+1)
	}
	if s.Max != 1e6 {
		t.Errorf("Max = %v, want 1e6 (lifetime aggregate keeps the outlier)", s.Max)
	}
	if s.P99 != 1 {
		t.Errorf("P99 = %v, want 1 (evicted outlier no longer in window)", s.P99)
	}
	if s.Avg <= 1 {
		t.Errorf("Avg = %v, want > 1 (mean covers every observation)", s.Avg)
	}
}

func TestHistogram_BucketCounts(t *testing.T) {
	h := newHistogram("test", "", []float64{1, 2})
	for _, v := range []float64{0.5, 1.0, 1.5, 5.0} {
		h.Observe(v)
	}

	cumulative, sum, count := h.snapshotExport()
	want := []uint64{2, 3}
	for i, got := range cumulative {
		if got != want[i] {
			t.Errorf("cumulative[%d] = %d, want %d", i, got, want[i])
		}
	}
	if sum != 8 {
		t.Errorf("sum = %v, want 8", sum)
	}
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}
}

func TestResetAll_LeavesGaugesAndHistograms(t *testing.T) {
	c := NewCollector()
	c.Increment("events_total", 5)
	c.SetGauge("queue_size", 3)
	c.Observe("latency_seconds", 0.25)
	c.Observe("latency_seconds", 0.75)

	c.ResetAll()

	snap := c.Snapshot()
	if got := snap["events_total"].Value; got != 0 {
		t.Errorf("counter after reset = %v, want 0", got)
	}
	if got := snap["queue_size"].Value; got != 3 {
		t.Errorf("gauge after reset = %v, want 3", got)
	}
	if got := snap["latency_seconds"].Summary.Count; got != 2 {
		t.Errorf("histogram count after reset = %d, want 2", got)
	}
}

func TestSnapshot_Types(t *testing.T) {
	c := NewCollector()
	c.Increment("events_total", 2)
	c.SetGauge("queue_size", 7)
	c.Observe("latency_seconds", 4)
	c.Observe("latency_seconds", 6)

	snap := c.Snapshot()
	tests := []struct {
		name     string
		wantType string
		wantVal  float64
	}{
		{"events_total", "counter", 2},
		{"queue_size", "gauge", 7},
		{"latency_seconds", "histogram", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := snap[tt.name]
			if !ok {
				t.Fatalf("metric %q missing from snapshot", tt.name)
			}
			if info.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", info.Type, tt.wantType)
			}
			if info.Value != tt.wantVal {
				t.Errorf("Value = %v, want %v", info.Value, tt.wantVal)
			}
		})
	}
	if snap["latency_seconds"].Summary == nil {
		t.Error("histogram snapshot missing summary")
	}
}

func TestExportPrometheus_Format(t *testing.T) {
	c := NewCollector()
	c.RegisterCounter("events_total", "total events seen")
	c.Increment("events_total", 3)
	c.SetGauge("queue.size", 12)
	h := c.RegisterHistogram("latency_seconds", "dispatch latency", 1, 2)
	for _, v := range []float64{0.5, 1.5, 5} {
		h.Observe(v)
	}

	out := c.ExportPrometheus()
	wantLines := []string{
		"# HELP events_total total events seen",
		"# TYPE events_total counter",
		"events_total 3",
		"# TYPE queue_size gauge",
		"queue_size 12",
		"# HELP latency_seconds dispatch latency",
		"# TYPE latency_seconds histogram",
		`latency_seconds_bucket{le="1"} 1`,
		`latency_seconds_bucket{le="2"} 2`,
		`latency_seconds_bucket{le="+Inf"} 3`,
		"latency_seconds_sum 7",
		"latency_seconds_count 3",
	}
	for _, line := range wantLines {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("export missing line %q\ngot:\n%s", line, out)
		}
	}
	if strings.Contains(out, "# HELP queue_size") {
		t.Error("export should omit HELP for metrics registered without help text")
	}
}

func TestExportPrometheus_SortedAndStable(t *testing.T) {
	c := NewCollector()
	c.Increment("zeta_total", 1)
	c.Increment("alpha_total", 1)

	out := c.ExportPrometheus()
	if strings.Index(out, "alpha_total") > strings.Index(out, "zeta_total") {
		t.Error("expected metrics sorted by name")
	}
	if out != c.ExportPrometheus() {
		t.Error("expected identical output across successive exports")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"events_total", "events_total"},
		{"queue.size", "queue_size"},
		{"http/requests-2xx", "http_requests_2xx"},
		{"9lives", "_lives"},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollector_ConcurrentIncrement(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Increment("events_total", 1)
				c.Observe("latency_seconds", float64(j))
			}
		}()
	}
	wg.Wait()

	if got := c.RegisterCounter("events_total", "").Value(); got != 5000 {
		t.Errorf("counter = %v, want 5000", got)
	}
	if got := c.RegisterHistogram("latency_seconds", "").Summary().Count; got != 5000 {
		t.Errorf("histogram count = %d, want 5000", got)
	}
}
