package models

import "time"

// Status is the health classification of a component or of the sidecar
// overall.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// severity orders statuses for worst-of reduction. Higher is worse, except
// that UNKNOWN outranks HEALTHY: a component we could not evaluate is less
// trustworthy than one we know is fine.
var severity = map[Status]int{
	StatusHealthy:   0,
	StatusUnknown:   1,
	StatusDegraded:  2,
	StatusUnhealthy: 3,
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// ComponentHealth is the outcome of one health evaluation of one component.
// It is overwritten wholesale on every check cycle.
type ComponentHealth struct {
	Name      string             `json:"name"`
	Status    Status             `json:"status"`
	Message   string             `json:"message,omitempty"`
	LastCheck time.Time          `json:"last_check"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// HealthReport is the full externally visible health state of the sidecar.
type HealthReport struct {
	Status              Status                     `json:"status"`
	InstanceID          string                     `json:"instance_id,omitempty"`
	UptimeSeconds       float64                    `json:"uptime_seconds"`
	Components          map[string]ComponentHealth `json:"components"`
	ConsecutiveFailures map[string]int             `json:"consecutive_failures"`
}
