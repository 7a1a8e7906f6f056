package health

import (
	"context"
	"fmt"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/cdc/pipeline"
)

// DatabaseChecker checks database connectivity.
type DatabaseChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewDatabaseChecker creates a new database health checker. ping is
// usually (*sql.DB).PingContext.
func NewDatabaseChecker(name string, ping func(ctx context.Context) error) *DatabaseChecker {
	return &DatabaseChecker{name: name, ping: ping}
}

func (c *DatabaseChecker) Name() string {
	return c.name
}

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := c.ping(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "database connection successful",
		Duration:  time.Since(start),
		LastCheck: start,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "database connection failed"
		result.Error = err.Error()
	}
	return result
}

// FetchReporter reports when a journal source last retrieved entries.
type FetchReporter interface {
	LastFetch() time.Time
}

// JournalChecker checks that a journal source keeps retrieving. A source
// that has not completed a retrieval within MaxAge is degraded, and one
// that has been silent for twice as long is unhealthy.
type JournalChecker struct {
	name   string
	source FetchReporter
	maxAge time.Duration
	now    func() time.Time
}

// NewJournalChecker creates a checker for a journal source.
func NewJournalChecker(name string, source FetchReporter, maxAge time.Duration) *JournalChecker {
	return &JournalChecker{name: name, source: source, maxAge: maxAge, now: time.Now}
}

func (c *JournalChecker) Name() string {
	return c.name
}

func (c *JournalChecker) Check(_ context.Context) CheckResult {
	now := c.now()
	result := CheckResult{Name: c.name, LastCheck: now}

	last := c.source.LastFetch()
	if last.IsZero() {
		result.Status = StatusUnknown
		result.Message = "no journal retrieval completed yet"
		return result
	}

	age := now.Sub(last)
	result.Message = fmt.Sprintf("last retrieval %s ago", age.Round(time.Millisecond))
	switch {
	case age > 2*c.maxAge:
		result.Status = StatusUnhealthy
	case age > c.maxAge:
		result.Status = StatusDegraded
	default:
		result.Status = StatusHealthy
	}
	return result
}

// PipelineChecker reports the lifecycle state of a pipeline.
type PipelineChecker struct {
	name  string
	state *pipeline.StateMachine
}

// NewPipelineChecker creates a checker for a pipeline's state machine.
func NewPipelineChecker(name string, state *pipeline.StateMachine) *PipelineChecker {
	return &PipelineChecker{name: name, state: state}
}

func (c *PipelineChecker) Name() string {
	return c.name
}

func (c *PipelineChecker) Check(_ context.Context) CheckResult {
	state := c.state.State()
	result := CheckResult{
		Name:      c.name,
		Message:   fmt.Sprintf("pipeline %s since %s", state, c.state.Since().Format(time.RFC3339)),
		LastCheck: time.Now(),
	}

	switch state {
	case pipeline.StateRunning:
		result.Status = StatusHealthy
	case pipeline.StatePaused, pipeline.StateStarting:
		result.Status = StatusDegraded
	default:
		result.Status = StatusUnhealthy
	}
	return result
}

// ComponentChecker wraps a check function.
type ComponentChecker struct {
	name  string
	check func(ctx context.Context) (Status, string, error)
}

// NewComponentChecker creates a new component health checker.
func NewComponentChecker(name string, check func(ctx context.Context) (Status, string, error)) *ComponentChecker {
	return &ComponentChecker{name: name, check: check}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.check(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Duration:  time.Since(start),
		LastCheck: start,
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

var (
	_ HealthChecker = (*DatabaseChecker)(nil)
	_ HealthChecker = (*JournalChecker)(nil)
	_ HealthChecker = (*PipelineChecker)(nil)
	_ HealthChecker = (*ComponentChecker)(nil)
)
