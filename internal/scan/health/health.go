// Package health tracks per-source pass outcomes and serves the health,
// status, and metrics endpoints.
package health

import "time"

// SystemStatus represents the overall health state of the scanner or one
// of its sources.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SourceHealth contains health metrics for a single source feed.
type SourceHealth struct {
	Source              string       `json:"source"`
	Status              SystemStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastSuccess         time.Time    `json:"last_success"`
}

// Report contains the full scanner health report.
type Report struct {
	SystemStatus SystemStatus            `json:"system_status"`
	Sources      map[string]SourceHealth `json:"sources"`
	DeadLetters  int                     `json:"dead_letters"`
}
