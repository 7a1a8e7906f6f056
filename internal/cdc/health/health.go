// Package health reports the health of the journal worker's components.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnknown indicates the health status is unknown.
	StatusUnknown Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`

	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ms"`

	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
}

// HealthChecker checks one component.
type HealthChecker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// ManagerConfig holds configuration for the health manager.
type ManagerConfig struct {
	// Timeout bounds each individual check.
	Timeout time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Timeout: 5 * time.Second,
	}
}

// Manager runs the registered checks and keeps their last results.
type Manager struct {
	mu       sync.RWMutex
	checkers []HealthChecker
	results  map[string]CheckResult
	timeout  time.Duration
	logger   *slog.Logger
}

// NewManager creates a new health manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		results: make(map[string]CheckResult),
		timeout: cfg.Timeout,
		logger:  logger.With("component", "health-manager"),
	}
}

// Register adds a health checker to the manager.
func (m *Manager) Register(checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
	m.logger.Debug("registered health checker", "name", checker.Name())
}

// Checkers returns the number of registered checkers.
func (m *Manager) Checkers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkers)
}

// CheckAll runs every registered check. Checks run without holding the
// manager lock, so a slow check does not block GetResult.
func (m *Manager) CheckAll(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	checkers := append([]HealthChecker(nil), m.checkers...)
	m.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	for _, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		result := checker.Check(checkCtx)
		cancel()

		if result.Status != StatusHealthy {
			m.logger.Warn("health check not healthy",
				"name", checker.Name(),
				"status", result.Status,
				"message", result.Message,
				"error", result.Error,
			)
		}
		results[checker.Name()] = result
	}

	m.mu.Lock()
	for name, result := range results {
		m.results[name] = result
	}
	m.mu.Unlock()

	return results
}

// GetResult returns the last result of a checker.
func (m *Manager) GetResult(name string) (CheckResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.results[name]
	return result, ok
}

// IsHealthy returns true if no component is unhealthy or unknown.
func (m *Manager) IsHealthy(ctx context.Context) bool {
	return m.GetOverallStatus(ctx).Status.serving()
}

// OverallStatus is the combined status of every component.
type OverallStatus struct {
	Status     Status                 `json:"status"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// GetOverallStatus runs every check and combines the results. One
// unhealthy component makes the whole worker unhealthy.
func (m *Manager) GetOverallStatus(ctx context.Context) OverallStatus {
	results := m.CheckAll(ctx)

	overall := OverallStatus{
		Status:     StatusHealthy,
		Components: results,
		Timestamp:  time.Now(),
	}
	for _, result := range results {
		overall.Status = worst(overall.Status, result.Status)
	}
	return overall
}

// serving reports whether the status allows traffic.
func (s Status) serving() bool {
	return s == StatusHealthy || s == StatusDegraded
}

func severity(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnknown:
		return 2
	default:
		return 3
	}
}

func worst(a, b Status) Status {
	if severity(b) > severity(a) {
		return b
	}
	return a
}
