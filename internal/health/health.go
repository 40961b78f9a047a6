// Package health periodically evaluates the sidecar's components and
// reduces their states to one overall status. Health is the only place
// internal failures become externally visible; the evaluation itself never
// interferes with event processing.
package health

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgerun/sidecar/internal/config"
	"github.com/forgerun/sidecar/internal/models"
)

// Classification thresholds for the observer check.
const (
	errorRateUnhealthy = 0.10
	dropRateUnhealthy  = 0.50
	dropRateDegraded   = 0.20
	queueUtilDegraded  = 0.80
)

const defaultCheckInterval = 30 * time.Second

// StatsSource exposes observer flow counters.
type StatsSource interface {
	Stats() models.ObserverStats
}

// BudgetSource exposes the profiler's budget evaluation.
type BudgetSource interface {
	OverBudget(cpuBudget, memoryBudgetMB float64) models.BudgetReport
}

// MetricSource exposes the metric registry size.
type MetricSource interface {
	Count() int
}

// Sources are the component handles polled each check cycle.
type Sources struct {
	Observer  StatsSource
	Profiler  BudgetSource
	Collector MetricSource
}

// Monitor runs the periodic check loop and holds the latest evaluation per
// component. A side counter tracks consecutive UNHEALTHY readings per
// component; it resets on any non-UNHEALTHY reading.
type Monitor struct {
	mu          sync.Mutex
	components  map[string]models.ComponentHealth
	consecutive map[string]int
	running     bool
	stopCh      chan struct{}
	done        chan struct{}

	src       Sources
	interval  time.Duration
	threshold int
	budgets   config.ResourceConfig
	startedAt time.Time
	logger    *zap.Logger
	now       func() time.Time
}

// NewMonitor creates a monitor polling the given sources. Budgets come from
// the resource config; interval and failure threshold from the health config.
func NewMonitor(cfg config.HealthCheckConfig, budgets config.ResourceConfig, src Sources, logger *zap.Logger) *Monitor {
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	m := &Monitor{
		components:  make(map[string]models.ComponentHealth),
		consecutive: make(map[string]int),
		src:         src,
		interval:    interval,
		threshold:   cfg.FailureThreshold,
		budgets:     budgets,
		logger:      logger,
		now:         time.Now,
	}
	m.startedAt = m.now()
	return m
}

// Start begins the periodic check loop. No-op when already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	go m.run(stopCh, done)
	m.logger.Info("Health monitor started", zap.Duration("interval", m.interval))
}

// Stop halts the check loop and waits for it to exit. No-op when stopped.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info("Health monitor stopped")
}

// Running reports whether the check loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckNow()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.CheckNow()
		}
	}
}

// CheckNow evaluates every component immediately and records the outcomes.
func (m *Monitor) CheckNow() {
	checks := []struct {
		name string
		fn   func() models.ComponentHealth
	}{
		{"observer", m.checkObserver},
		{"profiler", m.checkProfiler},
		{"metrics", m.checkCollector},
	}
	for _, check := range checks {
		m.record(m.evaluate(check.name, check.fn))
	}
}

// evaluate runs one check, converting any panic into UNKNOWN for that
// component.
func (m *Monitor) evaluate(name string, fn func() models.ComponentHealth) (h models.ComponentHealth) {
	defer func() {
		if r := recover(); r != nil {
			h = models.ComponentHealth{
				Name:      name,
				Status:    models.StatusUnknown,
				Message:   fmt.Sprintf("check failed: %v", r),
				LastCheck: m.now(),
			}
		}
	}()
	return fn()
}

func (m *Monitor) checkObserver() models.ComponentHealth {
	stats := m.src.Observer.Stats()
	errorRate := stats.ErrorRate()
	dropRate := stats.DropRate()

	status := models.StatusHealthy
	message := "processing normally"
	switch {
	case errorRate > errorRateUnhealthy:
		status = models.StatusUnhealthy
		message = fmt.Sprintf("error rate %.1f%% exceeds %.0f%%", errorRate*100, errorRateUnhealthy*100)
	case dropRate > dropRateUnhealthy:
		status = models.StatusUnhealthy
		message = fmt.Sprintf("drop rate %.1f%% exceeds %.0f%%", dropRate*100, dropRateUnhealthy*100)
	case dropRate > dropRateDegraded:
		status = models.StatusDegraded
		message = fmt.Sprintf("drop rate %.1f%% exceeds %.0f%%", dropRate*100, dropRateDegraded*100)
	case stats.QueueUtilization > queueUtilDegraded:
		status = models.StatusDegraded
		message = fmt.Sprintf("queue %.0f%% full", stats.QueueUtilization*100)
	}

	return models.ComponentHealth{
		Name:      "observer",
		Status:    status,
		Message:   message,
		LastCheck: m.now(),
		Metrics: map[string]float64{
			"error_rate":        errorRate,
			"drop_rate":         dropRate,
			"queue_utilization": stats.QueueUtilization,
			"queue_size":        float64(stats.QueueSize),
			"events_received":   float64(stats.Received),
			"events_processed":  float64(stats.Processed),
		},
	}
}

// checkProfiler classifies budget violations as DEGRADED only; resource
// pressure alone never makes the sidecar UNHEALTHY.
func (m *Monitor) checkProfiler() models.ComponentHealth {
	report := m.src.Profiler.OverBudget(m.budgets.MaxCPUPercent, m.budgets.MaxMemoryMB)

	status := models.StatusHealthy
	message := "within budget"
	if report.Exceeded() {
		status = models.StatusDegraded
		switch {
		case report.CPUOverBudget && report.MemoryOverBudget:
			message = "cpu and memory over budget"
		case report.CPUOverBudget:
			message = fmt.Sprintf("cpu %.1f%% over %.1f%% budget", report.CPUValue, report.CPUBudget)
		default:
			message = fmt.Sprintf("memory growth %.1fMB over %.1fMB budget", report.MemoryValue, report.MemoryBudget)
		}
	}

	return models.ComponentHealth{
		Name:      "profiler",
		Status:    status,
		Message:   message,
		LastCheck: m.now(),
		Metrics: map[string]float64{
			"cpu_percent":      report.CPUValue,
			"memory_growth_mb": report.MemoryValue,
		},
	}
}

func (m *Monitor) checkCollector() models.ComponentHealth {
	count := m.src.Collector.Count()

	status := models.StatusHealthy
	message := fmt.Sprintf("%d metrics registered", count)
	if count == 0 {
		status = models.StatusDegraded
		message = "no metrics registered"
	}

	return models.ComponentHealth{
		Name:      "metrics",
		Status:    status,
		Message:   message,
		LastCheck: m.now(),
		Metrics:   map[string]float64{"registered": float64(count)},
	}
}

func (m *Monitor) record(h models.ComponentHealth) {
	m.mu.Lock()
	m.components[h.Name] = h
	streak := 0
	if h.Status == models.StatusUnhealthy {
		m.consecutive[h.Name]++
		streak = m.consecutive[h.Name]
	} else {
		m.consecutive[h.Name] = 0
	}
	m.mu.Unlock()

	if streak == m.threshold {
		m.logger.Error("Component unhealthy past failure threshold",
			zap.String("component", h.Name),
			zap.Int("consecutive", streak),
			zap.String("message", h.Message))
	}
}

// OverallStatus reduces the recorded component statuses to the worst one.
// It is UNKNOWN until the first check cycle completes.
func (m *Monitor) OverallStatus() models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() models.Status {
	if len(m.components) == 0 {
		return models.StatusUnknown
	}
	overall := models.StatusHealthy
	for _, c := range m.components {
		overall = models.Worse(overall, c.Status)
	}
	return overall
}

// Report returns the full health report: overall status, uptime, the latest
// component evaluations, and the consecutive-failure counters.
func (m *Monitor) Report() models.HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	components := make(map[string]models.ComponentHealth, len(m.components))
	for name, c := range m.components {
		components[name] = c
	}
	consecutive := make(map[string]int, len(m.consecutive))
	for name, n := range m.consecutive {
		consecutive[name] = n
	}

	return models.HealthReport{
		Status:              m.overallLocked(),
		UptimeSeconds:       m.now().Sub(m.startedAt).Seconds(),
		Components:          components,
		ConsecutiveFailures: consecutive,
	}
}
