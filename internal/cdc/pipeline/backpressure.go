package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/cdc/buffer"
	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

// BackpressureConfig holds configuration for backpressure handling.
type BackpressureConfig struct {
	// Enabled enables backpressure handling.
	Enabled bool

	// HighWatermark is the number of unprocessed buffered events that
	// pauses the pipeline.
	HighWatermark int

	// LowWatermark is the number of unprocessed buffered events at which a
	// paused pipeline resumes.
	LowWatermark int

	// CheckInterval is how often to read the buffer depth.
	CheckInterval time.Duration
}

// DefaultBackpressureConfig returns a BackpressureConfig with sensible defaults.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		Enabled:       true,
		HighWatermark: 8000,
		LowWatermark:  5000,
		CheckInterval: time.Second,
	}
}

// Validate checks the watermarks.
func (c BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.LowWatermark < 0 || c.HighWatermark <= c.LowWatermark {
		return fmt.Errorf("%w: backpressure watermarks must satisfy 0 <= low < high", ErrInvalidConfig)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: backpressure check interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// BufferSizeFunc returns the number of events waiting downstream.
type BufferSizeFunc func(ctx context.Context) (int, error)

// BufferDepth returns a BufferSizeFunc that reads the unprocessed event
// count of buf and reports it on the buffer depth gauge of the source.
func BufferDepth(buf buffer.Manager, sourceName string) BufferSizeFunc {
	return func(ctx context.Context) (int, error) {
		stats, err := buf.Stats(ctx)
		if err != nil {
			return 0, err
		}
		metrics.BufferDepth.WithLabelValues(sourceName).Set(float64(stats.UnprocessedEvents))
		return int(stats.UnprocessedEvents), nil
	}
}

// BackpressureController pauses a running pipeline while the buffer holds
// more than the high watermark and resumes it once the buffer has drained
// to the low watermark.
type BackpressureController struct {
	config       BackpressureConfig
	getSize      BufferSizeFunc
	stateMachine *StateMachine
	logger       *slog.Logger

	mu          sync.RWMutex
	pausedAt    time.Time
	resumedAt   time.Time
	pauseCount  int64
	resumeCount int64
	lastSize    int
}

// NewBackpressureController creates a new BackpressureController.
func NewBackpressureController(
	config BackpressureConfig,
	getSize BufferSizeFunc,
	stateMachine *StateMachine,
	logger *slog.Logger,
) *BackpressureController {
	if logger == nil {
		logger = slog.Default()
	}

	return &BackpressureController{
		config:       config,
		getSize:      getSize,
		stateMachine: stateMachine,
		logger:       logger.With("component", "backpressure"),
	}
}

// Start checks the buffer on every interval until ctx is done.
func (c *BackpressureController) Start(ctx context.Context) {
	if !c.config.Enabled {
		return
	}

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	c.logger.Debug("backpressure controller started",
		"high_watermark", c.config.HighWatermark,
		"low_watermark", c.config.LowWatermark,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *BackpressureController) check(ctx context.Context) {
	size, err := c.getSize(ctx)
	if err != nil {
		c.logger.Warn("failed to read buffer depth", "error", err)
		return
	}

	c.mu.Lock()
	c.lastSize = size
	c.mu.Unlock()

	switch state := c.stateMachine.State(); {
	case state == StateRunning && size >= c.config.HighWatermark:
		if err := c.stateMachine.Transition(StatePaused); err != nil {
			c.logger.Debug("pause skipped", "error", err)
			return
		}
		c.mu.Lock()
		c.pausedAt = time.Now()
		c.pauseCount++
		c.mu.Unlock()
		c.logger.Warn("buffer above high watermark, pausing journal reads",
			"buffer_size", size,
			"high_watermark", c.config.HighWatermark,
		)

	case state == StatePaused && size <= c.config.LowWatermark:
		if err := c.stateMachine.Transition(StateRunning); err != nil {
			c.logger.Debug("resume skipped", "error", err)
			return
		}
		c.mu.Lock()
		paused := time.Since(c.pausedAt)
		c.resumedAt = time.Now()
		c.resumeCount++
		c.mu.Unlock()
		c.logger.Info("buffer drained, resuming journal reads",
			"buffer_size", size,
			"pause_duration", paused,
		)
	}
}

// Stats returns backpressure statistics.
func (c *BackpressureController) Stats() BackpressureStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return BackpressureStats{
		IsPaused:    c.stateMachine.IsPaused(),
		PausedAt:    c.pausedAt,
		ResumedAt:   c.resumedAt,
		PauseCount:  c.pauseCount,
		ResumeCount: c.resumeCount,
		LastSize:    c.lastSize,
	}
}

// BackpressureStats holds backpressure statistics.
type BackpressureStats struct {
	IsPaused    bool      `json:"is_paused"`
	PausedAt    time.Time `json:"paused_at,omitempty"`
	ResumedAt   time.Time `json:"resumed_at,omitempty"`
	PauseCount  int64     `json:"pause_count"`
	ResumeCount int64     `json:"resume_count"`
	LastSize    int       `json:"last_size"`
}
