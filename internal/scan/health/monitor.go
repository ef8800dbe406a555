package health

import (
	"context"
	"sync"
	"time"
)

// Status thresholds. A source that has never delivered a pass is critical
// as soon as it fails, because nothing distinguishes a misconfigured URL
// from an outage.
const (
	degradedAfter = 3
	criticalAfter = 10
)

// DeadLetterCounter reports how many failed passes are parked for recovery.
type DeadLetterCounter func(ctx context.Context) (int, error)

type sourceState struct {
	consecutiveFailures int
	lastSuccess         time.Time
	everSucceeded       bool
}

// Monitor aggregates pass outcomes from the scan runner into per-source
// health.
type Monitor struct {
	deadLetters DeadLetterCounter
	sources     map[string]*sourceState
	lastCheck   time.Time
	lastReport  Report
	mu          sync.Mutex
}

// NewMonitor creates a health monitor. deadLetters may be nil when no dead
// letter queue is configured.
func NewMonitor(deadLetters DeadLetterCounter) *Monitor {
	return &Monitor{
		deadLetters: deadLetters,
		sources:     make(map[string]*sourceState),
	}
}

// Register adds a source so it appears in reports before its first pass.
func (m *Monitor) Register(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[source]; !ok {
		m.sources[source] = &sourceState{}
	}
}

// RecordSuccess marks a completed pass for source.
func (m *Monitor) RecordSuccess(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(source)
	st.consecutiveFailures = 0
	st.lastSuccess = time.Now()
	st.everSucceeded = true
}

// RecordFailure marks a failed pass for source.
func (m *Monitor) RecordFailure(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(source).consecutiveFailures++
}

func (m *Monitor) state(source string) *sourceState {
	st, ok := m.sources[source]
	if !ok {
		st = &sourceState{}
		m.sources[source] = st
	}
	return st
}

// CheckHealth builds the current health report.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit so the endpoints cannot spam the dead letter backend.
	if time.Since(m.lastCheck) < 10*time.Second && len(m.lastReport.Sources) > 0 {
		return m.lastReport
	}

	report := Report{
		SystemStatus: StatusHealthy,
		Sources:      make(map[string]SourceHealth, len(m.sources)),
	}

	for name, st := range m.sources {
		health := SourceHealth{
			Source:              name,
			Status:              sourceStatus(st),
			ConsecutiveFailures: st.consecutiveFailures,
			LastSuccess:         st.lastSuccess,
		}
		report.Sources[name] = health

		if health.Status == StatusCritical {
			report.SystemStatus = StatusCritical
		} else if health.Status == StatusDegraded && report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
	}

	if m.deadLetters != nil {
		if count, err := m.deadLetters(ctx); err == nil {
			report.DeadLetters = count
			if count > 0 && report.SystemStatus == StatusHealthy {
				report.SystemStatus = StatusDegraded
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func sourceStatus(st *sourceState) SystemStatus {
	switch {
	case st.consecutiveFailures >= criticalAfter:
		return StatusCritical
	case st.consecutiveFailures > 0 && !st.everSucceeded:
		return StatusCritical
	case st.consecutiveFailures >= degradedAfter:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
