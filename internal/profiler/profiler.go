// Package profiler samples the host process's resource usage on a background
// loop and evaluates the readings against configured budgets.
// Uses gopsutil for cross-platform process metrics.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/forgerun/sidecar/internal/models"
)

const (
	// ringCapacity bounds the retained snapshot history.
	ringCapacity = 1000

	// budgetWindow is the averaging window for budget evaluation.
	budgetWindow = 60 * time.Second

	defaultInterval = 10 * time.Second
	readTimeout     = 5 * time.Second
)

var errNoProcess = errors.New("process handle unavailable")

// Profiler periodically captures ProfileSnapshots of the current process.
// Collection never panics and never blocks the caller beyond one process
// read; failed readings yield a zeroed snapshot and are not retained.
type Profiler struct {
	mu        sync.Mutex
	snapshots []models.ProfileSnapshot
	running   bool
	stopCh    chan struct{}
	done      chan struct{}
	expiry    time.Time

	proc       *process.Process
	baselineMB float64
	interval   time.Duration
	cpuWindow  time.Duration
	logger     *zap.Logger

	readFn func() (models.ProfileSnapshot, error)
	now    func() time.Time
}

// New creates a lightweight profiler sampling every interval. The current
// process's RSS at construction becomes the baseline for budget checks.
func New(interval time.Duration, logger *zap.Logger) *Profiler {
	if interval <= 0 {
		interval = defaultInterval
	}
	p := &Profiler{
		snapshots: make([]models.ProfileSnapshot, 0, ringCapacity),
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
	p.readFn = p.readProcess

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("Process handle unavailable, snapshots will be zeroed", zap.Error(err))
		return p
	}
	p.proc = proc

	if info, err := proc.MemoryInfo(); err == nil {
		p.baselineMB = bytesToMB(info.RSS)
	} else {
		logger.Debug("Baseline memory reading failed", zap.Error(err))
	}

	// Prime the delta-CPU baseline for interval-0 readings.
	proc.Percent(0)

	return p
}

// Collect captures one resource reading and appends it to the snapshot ring,
// evicting the oldest entry past capacity. On any internal failure it returns
// a zeroed snapshot and retains nothing.
func (p *Profiler) Collect() models.ProfileSnapshot {
	snap, err := p.read()
	if err != nil {
		p.logger.Debug("Profile collection failed", zap.Error(err))
		return models.ProfileSnapshot{}
	}

	p.mu.Lock()
	if len(p.snapshots) == ringCapacity {
		copy(p.snapshots, p.snapshots[1:])
		p.snapshots[ringCapacity-1] = snap
	} else {
		p.snapshots = append(p.snapshots, snap)
	}
	p.mu.Unlock()

	return snap
}

func (p *Profiler) read() (snap models.ProfileSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap = models.ProfileSnapshot{}
			err = fmt.Errorf("profile read panic: %v", r)
		}
	}()
	return p.readFn()
}

func (p *Profiler) readProcess() (models.ProfileSnapshot, error) {
	if p.proc == nil {
		return models.ProfileSnapshot{}, errNoProcess
	}

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	cpuPct, err := p.proc.PercentWithContext(ctx, p.cpuWindow)
	if err != nil {
		return models.ProfileSnapshot{}, fmt.Errorf("cpu percent: %w", err)
	}
	memInfo, err := p.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return models.ProfileSnapshot{}, fmt.Errorf("memory info: %w", err)
	}
	threads, err := p.proc.NumThreadsWithContext(ctx)
	if err != nil {
		return models.ProfileSnapshot{}, fmt.Errorf("thread count: %w", err)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return models.ProfileSnapshot{
		Timestamp:   p.now(),
		CPUPercent:  cpuPct,
		MemoryMB:    bytesToMB(memInfo.RSS),
		ThreadCount: threads,
		GCCount:     ms.NumGC,
	}, nil
}

// Start begins the background sampling loop. Calling Start on a running
// profiler is a no-op.
func (p *Profiler) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.run(p.stopCh, p.done)
	p.logger.Info("Profiler started", zap.Duration("interval", p.interval))
}

// Stop halts the sampling loop and waits for it to exit. Calling Stop on a
// stopped profiler is a no-op.
func (p *Profiler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	<-done
	p.logger.Info("Profiler stopped")
}

// Running reports whether the sampling loop is active.
func (p *Profiler) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Profiler) run(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial collection immediately, then on every tick.
	p.safeCollect()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if p.expired() {
				p.mu.Lock()
				p.running = false
				p.mu.Unlock()
				p.logger.Info("Profiling window elapsed, disabling")
				return
			}
			p.safeCollect()
		}
	}
}

// safeCollect swallows any panic so the sampling loop never dies.
func (p *Profiler) safeCollect() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Profile collection panicked", zap.Any("panic", r))
		}
	}()
	p.Collect()
}

func (p *Profiler) expired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.expiry.IsZero() && p.now().After(p.expiry)
}

// Last returns the most recent retained snapshot, or a zero snapshot when
// nothing has been collected yet.
func (p *Profiler) Last() models.ProfileSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snapshots) == 0 {
		return models.ProfileSnapshot{}
	}
	return p.snapshots[len(p.snapshots)-1]
}

// BaselineMB returns the RSS recorded at construction, in megabytes.
func (p *Profiler) BaselineMB() float64 { return p.baselineMB }

// Summary aggregates the snapshots taken within the trailing window. A
// window of zero, or a window containing no samples, aggregates over all
// retained snapshots instead.
func (p *Profiler) Summary(window time.Duration) models.ResourceSummary {
	p.mu.Lock()
	snapshots := make([]models.ProfileSnapshot, len(p.snapshots))
	copy(snapshots, p.snapshots)
	now := p.now()
	p.mu.Unlock()

	if len(snapshots) == 0 {
		return models.ResourceSummary{}
	}

	selected := snapshots
	if window > 0 {
		cutoff := now.Add(-window)
		var recent []models.ProfileSnapshot
		for _, snap := range snapshots {
			if snap.Timestamp.After(cutoff) {
				recent = append(recent, snap)
			}
		}
		if len(recent) > 0 {
			selected = recent
		}
	}

	return summarize(selected)
}

// OverBudget compares the last minute of usage against the given budgets.
// Memory counts as growth over the construction-time baseline.
func (p *Profiler) OverBudget(cpuBudget, memoryBudgetMB float64) models.BudgetReport {
	summary := p.Summary(budgetWindow)

	var memoryValue float64
	if summary.SampleCount > 0 {
		memoryValue = summary.MemoryAvg - p.baselineMB
	}

	return models.BudgetReport{
		CPUOverBudget:    summary.CPUAvg > cpuBudget,
		MemoryOverBudget: memoryValue > memoryBudgetMB,
		CPUValue:         summary.CPUAvg,
		MemoryValue:      memoryValue,
		CPUBudget:        cpuBudget,
		MemoryBudget:     memoryBudgetMB,
	}
}

func summarize(snapshots []models.ProfileSnapshot) models.ResourceSummary {
	s := models.ResourceSummary{SampleCount: len(snapshots)}

	var cpuSum, memSum, threadSum float64
	for _, snap := range snapshots {
		cpuSum += snap.CPUPercent
		memSum += snap.MemoryMB
		threadSum += float64(snap.ThreadCount)
		if snap.CPUPercent > s.CPUMax {
			s.CPUMax = snap.CPUPercent
		}
		if snap.MemoryMB > s.MemoryMax {
			s.MemoryMax = snap.MemoryMB
		}
		if snap.ThreadCount > s.ThreadMax {
			s.ThreadMax = snap.ThreadCount
		}
	}

	n := float64(len(snapshots))
	s.CPUAvg = cpuSum / n
	s.MemoryAvg = memSum / n
	s.ThreadAvg = threadSum / n
	s.MemoryGrowthMB = snapshots[len(snapshots)-1].MemoryMB - snapshots[0].MemoryMB
	return s
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}
