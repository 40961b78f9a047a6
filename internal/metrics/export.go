package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ExportPrometheus renders all registered metrics in the Prometheus text
// exposition format: HELP/TYPE lines, cumulative le-bucketed histogram
// counts with a +Inf bucket, and _sum/_count lines. Output is sorted by
// metric name so successive scrapes diff cleanly.
func (c *Collector) ExportPrometheus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder

	for _, name := range sortedKeys(c.counters) {
		counter := c.counters[name]
		writeHeader(&b, name, counter.help, "counter")
		fmt.Fprintf(&b, "%s %s\n", sanitizeName(name), formatValue(counter.Value()))
	}

	for _, name := range sortedKeys(c.gauges) {
		gauge := c.gauges[name]
		writeHeader(&b, name, gauge.help, "gauge")
		fmt.Fprintf(&b, "%s %s\n", sanitizeName(name), formatValue(gauge.Value()))
	}

	for _, name := range sortedKeys(c.histograms) {
		histogram := c.histograms[name]
		writeHeader(&b, name, histogram.help, "histogram")

		clean := sanitizeName(name)
		cumulative, sum, count := histogram.snapshotExport()
		for i, le := range histogram.buckets {
			fmt.Fprintf(&b, "%s_bucket{le=\"%s\"} %d\n", clean, formatValue(le), cumulative[i])
		}
		fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", clean, count)
		fmt.Fprintf(&b, "%s_sum %s\n", clean, formatValue(sum))
		fmt.Fprintf(&b, "%s_count %d\n", clean, count)
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, metricType string) {
	clean := sanitizeName(name)
	if help != "" {
		fmt.Fprintf(b, "# HELP %s %s\n", clean, help)
	}
	fmt.Fprintf(b, "# TYPE %s %s\n", clean, metricType)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// sanitizeName maps a metric name onto the Prometheus charset
// [a-zA-Z_:][a-zA-Z0-9_:]*, replacing anything else with underscores.
func sanitizeName(name string) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
