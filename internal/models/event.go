// Package models defines the shared data structures of the telemetry sidecar:
// diagnostic events, signal classes, resource snapshots, and health states.
// These structures cross package boundaries and may be serialized to JSON by
// an external exposition layer.
package models

import (
	"strings"
	"time"
)

// Signal identifies a class of diagnostic traffic with its own sampling rate.
type Signal string

// The six config-addressable signal classes.
const (
	SignalEvents      Signal = "events"
	SignalTraces      Signal = "traces"
	SignalProfiling   Signal = "profiling"
	SignalTestEvents  Signal = "test_events"
	SignalPerfMetrics Signal = "perf_metrics"
	SignalDebugLogs   Signal = "debug_logs"
)

// Signals lists all known signal classes in config order.
func Signals() []Signal {
	return []Signal{
		SignalEvents,
		SignalTraces,
		SignalProfiling,
		SignalTestEvents,
		SignalPerfMetrics,
		SignalDebugLogs,
	}
}

// SignalFor classifies an event type into a signal class by name prefix.
// Unrecognized types fall into the generic "events" class.
func SignalFor(eventType string) Signal {
	t := strings.ToLower(eventType)
	switch {
	case strings.HasPrefix(t, "trace"):
		return SignalTraces
	case strings.HasPrefix(t, "profil"):
		return SignalProfiling
	case strings.HasPrefix(t, "test_") || strings.HasPrefix(t, "suite_") || strings.HasPrefix(t, "assertion_"):
		return SignalTestEvents
	case strings.HasPrefix(t, "perf_") || strings.HasPrefix(t, "metric"):
		return SignalPerfMetrics
	case strings.HasPrefix(t, "debug") || strings.HasPrefix(t, "log_"):
		return SignalDebugLogs
	default:
		return SignalEvents
	}
}

// Event is one unit of observed diagnostic data. Events are immutable once
// constructed by the observer; ownership transfers from the queue to exactly
// one handler invocation and the event is discarded afterwards.
type Event struct {
	Type        string         `json:"event_type"`
	Data        map[string]any `json:"data"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id,omitempty"`
	TestID      string         `json:"test_id,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
}

// ObserverStats is an atomic snapshot of the observer's counters and queue.
type ObserverStats struct {
	Received  int64 `json:"events_received"`
	Sampled   int64 `json:"events_sampled"`
	Dropped   int64 `json:"events_dropped"`
	Processed int64 `json:"events_processed"`
	Errors    int64 `json:"errors"`

	QueueSize        int     `json:"queue_size"`
	QueueCapacity    int     `json:"queue_capacity"`
	QueueUtilization float64 `json:"queue_utilization"`
	Running          bool    `json:"running"`
	LastError        string  `json:"last_error,omitempty"`
}

// DropRate returns the fraction of sampled events that were dropped.
func (s ObserverStats) DropRate() float64 {
	if s.Sampled == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(s.Sampled)
}

// ErrorRate returns the fraction of processed events that failed in a handler.
func (s ObserverStats) ErrorRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Processed)
}
