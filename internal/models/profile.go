package models

import "time"

// ProfileSnapshot is one point-in-time reading of the host process's
// resource usage. Snapshots are immutable and retained in a fixed-capacity
// ring buffer by the profiler.
type ProfileSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryMB    float64   `json:"memory_mb"`
	ThreadCount int32     `json:"thread_count"`
	GCCount     uint32    `json:"gc_count"`
}

// IsZero reports whether the snapshot carries no reading (collection failed).
func (s ProfileSnapshot) IsZero() bool {
	return s.Timestamp.IsZero()
}

// ResourceSummary aggregates profile snapshots over a time window.
type ResourceSummary struct {
	CPUAvg         float64 `json:"cpu_avg"`
	CPUMax         float64 `json:"cpu_max"`
	MemoryAvg      float64 `json:"memory_avg"`
	MemoryMax      float64 `json:"memory_max"`
	MemoryGrowthMB float64 `json:"memory_growth_mb"`
	ThreadAvg      float64 `json:"thread_avg"`
	ThreadMax      int32   `json:"thread_max"`
	SampleCount    int     `json:"sample_count"`
}

// BudgetReport compares recent resource usage against configured budgets.
// Exceeding a budget is an observable condition, never an error: it degrades
// health status and nothing else.
type BudgetReport struct {
	CPUOverBudget    bool    `json:"cpu_over_budget"`
	MemoryOverBudget bool    `json:"memory_over_budget"`
	CPUValue         float64 `json:"cpu_value"`
	MemoryValue      float64 `json:"memory_value"`
	CPUBudget        float64 `json:"cpu_budget"`
	MemoryBudget     float64 `json:"memory_budget"`
}

// Exceeded reports whether either budget is violated.
func (r BudgetReport) Exceeded() bool {
	return r.CPUOverBudget || r.MemoryOverBudget
}
