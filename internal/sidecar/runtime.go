// Package sidecar wires the sampler, observer, profiler, metrics collector,
// and health monitor into one runtime with a single producer-facing API.
// Construction is the only place the sidecar fails loudly; once built, every
// failure is absorbed and surfaced through stats and health only.
package sidecar

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/forgerun/sidecar/internal/config"
	"github.com/forgerun/sidecar/internal/health"
	"github.com/forgerun/sidecar/internal/metrics"
	"github.com/forgerun/sidecar/internal/models"
	"github.com/forgerun/sidecar/internal/observer"
	"github.com/forgerun/sidecar/internal/profiler"
	"github.com/forgerun/sidecar/internal/sampler"
)

// stopTimeout bounds the wait for the observer worker at shutdown.
const stopTimeout = 5 * time.Second

// Handler and the event options are re-exported so producers depend on this
// package alone.
type Handler = observer.Handler

// EventOption sets an optional correlation field on an event.
type EventOption = observer.EventOption

var (
	WithExecutionID = observer.WithExecutionID
	WithTestID      = observer.WithTestID
	WithRunID       = observer.WithRunID
)

// Runtime is the sidecar composition root.
type Runtime struct {
	cfg        *config.Config
	instanceID string
	startedAt  time.Time
	logger     *zap.Logger

	sampler   *sampler.Sampler
	adaptive  *sampler.AdaptiveSampler
	collector *metrics.Collector
	observer  *observer.Observer
	profiler  *profiler.Profiler
	deep      *profiler.DeepProfiler
	monitor   *health.Monitor

	mu      sync.Mutex
	running atomic.Bool
}

// New validates cfg and wires the component graph. A nil cfg uses defaults;
// a nil logger discards logs. Invalid configuration is the one loud failure.
func New(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		startedAt:  time.Now(),
		logger:     logger,
		collector:  metrics.NewCollector(),
	}

	if cfg.Sampling.Adaptive {
		r.adaptive = sampler.NewAdaptive(cfg.Sampling.Rates(), logger.Named("sampler"))
		r.sampler = r.adaptive.Sampler
	} else {
		r.sampler = sampler.New(cfg.Sampling.Rates(), logger.Named("sampler"))
	}

	r.observer = observer.New(cfg.Resources, r.sampler, r.collector, logger.Named("observer"))

	if cfg.Profiling.DeepProfiling {
		r.deep = profiler.NewDeep(cfg.Profiling.SamplingInterval.Duration, logger.Named("profiler"))
		r.profiler = r.deep.Profiler
	} else {
		r.profiler = profiler.New(cfg.Profiling.SamplingInterval.Duration, logger.Named("profiler"))
	}

	r.monitor = health.NewMonitor(cfg.HealthChecks, cfg.Resources, health.Sources{
		Observer:  r.observer,
		Profiler:  r.profiler,
		Collector: r.collector,
	}, logger.Named("health"))

	logger.Info("Sidecar runtime constructed",
		zap.String("instance_id", r.instanceID),
		zap.Bool("enabled", cfg.Enabled),
		zap.Bool("adaptive_sampling", cfg.Sampling.Adaptive),
		zap.Bool("deep_profiling", cfg.Profiling.DeepProfiling))
	return r, nil
}

// InstanceID identifies this runtime instance.
func (r *Runtime) InstanceID() string { return r.instanceID }

// Start brings up the background loops: observer first, then profiler and
// health monitor when enabled. It is a no-op when the sidecar is disabled or
// already running. A failure mid-start rolls back whatever already started.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cfg.Enabled {
		r.logger.Info("Sidecar disabled, start skipped")
		return nil
	}
	if r.running.Load() {
		return nil
	}

	if err := r.startComponents(); err != nil {
		return err
	}

	r.running.Store(true)
	r.logger.Info("Sidecar started", zap.String("instance_id", r.instanceID))
	return nil
}

func (r *Runtime) startComponents() (err error) {
	var observerUp, profilerUp bool
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sidecar start: %v", rec)
			if profilerUp {
				r.stopProfiler()
			}
			if observerUp {
				r.observer.Stop(stopTimeout)
			}
		}
	}()

	r.observer.Start()
	observerUp = true

	if r.cfg.Profiling.Enabled {
		r.startProfiler()
		profilerUp = true
	}

	if r.cfg.HealthChecks.Enabled {
		r.monitor.Start()
	}
	return nil
}

func (r *Runtime) startProfiler() {
	if r.deep != nil {
		r.deep.Enable(r.cfg.Profiling.DeepDuration.Duration)
		return
	}
	r.profiler.Start()
}

func (r *Runtime) stopProfiler() {
	if r.deep != nil {
		r.deep.Disable()
		return
	}
	r.profiler.Stop()
}

// Stop halts the health monitor, profiler, and observer in that order. A
// failure in one component never prevents stopping the rest; all failures
// are aggregated into the returned error.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)

	var errs error
	errs = multierr.Append(errs, r.stopStep("health", func() error {
		r.monitor.Stop()
		return nil
	}))
	errs = multierr.Append(errs, r.stopStep("profiler", func() error {
		r.stopProfiler()
		return nil
	}))
	errs = multierr.Append(errs, r.stopStep("observer", func() error {
		return r.observer.Stop(stopTimeout)
	}))

	if errs != nil {
		r.logger.Warn("Sidecar stopped with errors", zap.Error(errs))
		return errs
	}
	r.logger.Info("Sidecar stopped")
	return nil
}

// stopStep runs one shutdown action, converting a panic into an error so
// the remaining components still get stopped.
func (r *Runtime) stopStep(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("stop %s: %v", name, rec)
		}
	}()
	if err := fn(); err != nil {
		r.logger.Warn("Component stop failed", zap.String("component", name), zap.Error(err))
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

// Running reports whether the sidecar is started.
func (r *Runtime) Running() bool { return r.running.Load() }

// Run starts the sidecar, invokes fn, and stops the sidecar on every exit
// path. The error from fn is never swallowed; stop failures are appended.
func (r *Runtime) Run(ctx context.Context, fn func(context.Context) error) (err error) {
	if err := r.Start(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, r.Stop())
	}()
	return fn(ctx)
}

// Observe submits one event to the sidecar. It returns false immediately
// when the sidecar is disabled or not running, before reaching the observer.
func (r *Runtime) Observe(eventType string, data map[string]any, opts ...EventOption) bool {
	if !r.cfg.Enabled || !r.running.Load() {
		return false
	}
	return r.observer.Observe(eventType, data, opts...)
}

// RegisterHandler routes events of the given type to handler.
func (r *Runtime) RegisterHandler(eventType string, handler Handler) {
	r.observer.RegisterHandler(eventType, handler)
}

// ReportAnomaly feeds the adaptive sampler's per-kind anomaly counter.
// No-op when adaptive sampling is disabled.
func (r *Runtime) ReportAnomaly(signal models.Signal, kind string) {
	if r.adaptive == nil {
		return
	}
	r.adaptive.ReportAnomaly(signal, kind)
}

// Boost temporarily multiplies one signal's sampling rate.
func (r *Runtime) Boost(signal models.Signal, factor float64, duration time.Duration) {
	r.sampler.Boost(signal, factor, duration)
}

// Reload hot-applies the per-signal sampling rates from cfg. Budgets, queue
// sizing, and profiling mode deliberately require a restart.
func (r *Runtime) Reload(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("reload rejected: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reload rejected: %w", err)
	}

	r.sampler.SetRates(cfg.Sampling.Rates())
	r.logger.Info("Sampling rates reloaded",
		zap.Float64("events", cfg.Sampling.Events),
		zap.Float64("traces", cfg.Sampling.Traces),
		zap.Float64("profiling", cfg.Sampling.Profiling),
		zap.Float64("test_events", cfg.Sampling.TestEvents),
		zap.Float64("perf_metrics", cfg.Sampling.PerfMetrics),
		zap.Float64("debug_logs", cfg.Sampling.DebugLogs))
	return nil
}

// Health returns the current health report tagged with this instance's ID.
func (r *Runtime) Health() models.HealthReport {
	report := r.monitor.Report()
	report.InstanceID = r.instanceID
	return report
}

// CheckHealthNow forces an immediate evaluation cycle, mainly for callers
// that want a fresh report before the next scheduled check.
func (r *Runtime) CheckHealthNow() {
	r.monitor.CheckNow()
}

// Stats returns the observer's flow counters and queue state.
func (r *Runtime) Stats() models.ObserverStats {
	return r.observer.Stats()
}

// SamplingStats returns per-signal sampling counters.
func (r *Runtime) SamplingStats() map[models.Signal]sampler.SignalStats {
	return r.sampler.Stats()
}

// Metrics returns the merged metric snapshot. The queue and resource gauges
// are pulled live from the observer and profiler at read time.
func (r *Runtime) Metrics() map[string]metrics.Info {
	r.pullGauges()
	return r.collector.Snapshot()
}

// ExportMetrics renders the merged metrics in the Prometheus text format.
func (r *Runtime) ExportMetrics() string {
	r.pullGauges()
	return r.collector.ExportPrometheus()
}

func (r *Runtime) pullGauges() {
	stats := r.observer.Stats()
	r.collector.SetGauge("sidecar_queue_size", float64(stats.QueueSize))
	r.collector.SetGauge("sidecar_queue_utilization", stats.QueueUtilization)

	snap := r.profiler.Last()
	r.collector.SetGauge("sidecar_cpu_percent", snap.CPUPercent)
	r.collector.SetGauge("sidecar_memory_mb", snap.MemoryMB)
	r.collector.SetGauge("sidecar_thread_count", float64(snap.ThreadCount))
	r.collector.SetGauge("sidecar_gc_count", float64(snap.GCCount))
	r.collector.SetGauge("sidecar_uptime_seconds", time.Since(r.startedAt).Seconds())
}
