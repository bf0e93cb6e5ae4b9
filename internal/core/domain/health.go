package domain

import "time"

// HealthStatus classifies a backend's operational state.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// GaugeValue maps the status onto the health gauge scale.
func (s HealthStatus) GaugeValue() float64 {
	switch s {
	case HealthHealthy:
		return 2
	case HealthDegraded:
		return 1
	default:
		return 0
	}
}

// BackendHealth is a point-in-time snapshot of a backend's health
// record. The monitor owns the live record; everything else reads
// snapshots.
type BackendHealth struct {
	Status              HealthStatus  `json:"status"`
	LastSuccess         time.Time     `json:"last_success,omitzero"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
}
