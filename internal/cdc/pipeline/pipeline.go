package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/cdc"
	"github.com/janovincze/philotes-ibmi/internal/cdc/buffer"
	"github.com/janovincze/philotes-ibmi/internal/cdc/checkpoint"
	"github.com/janovincze/philotes-ibmi/internal/cdc/source"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

// Config holds pipeline configuration.
type Config struct {
	// CheckpointInterval is how often to save checkpoints.
	CheckpointInterval time.Duration

	// CheckpointEnabled enables checkpoint restore and saving.
	CheckpointEnabled bool

	// BufferEnabled enables writing events to the buffer.
	BufferEnabled bool

	// Retry governs buffer writes.
	Retry RetryPolicy

	// Backpressure pauses journal reads while the buffer is full.
	Backpressure BackpressureConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckpointInterval: 10 * time.Second,
		CheckpointEnabled:  true,
		BufferEnabled:      true,
		Retry:              DefaultRetryPolicy(),
		Backpressure:       DefaultBackpressureConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.CheckpointEnabled && c.CheckpointInterval <= 0 {
		return fmt.Errorf("%w: checkpoint interval must be positive", ErrInvalidConfig)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return c.Backpressure.Validate()
}

// Stats holds pipeline statistics.
type Stats struct {
	EventsProcessed  int64
	EventsBuffered   int64
	LastEventTime    time.Time
	LastCheckpoint   journal.ProcessedPosition
	LastCheckpointAt time.Time
	Errors           int64
}

// Pipeline reads events from a source, writes them to the buffer and
// checkpoints the source position.
//
// Events are written one at a time before the next one is read, so a
// checkpoint never covers an event that has not been buffered. After a
// crash the source resumes at the last checkpoint and may deliver events
// again.
type Pipeline struct {
	source     source.Source
	checkpoint checkpoint.Manager
	buffer     buffer.Manager
	retryer    *Retryer
	state      *StateMachine
	logger     *slog.Logger
	config     Config

	// stateChanged is signalled after every state transition.
	stateChanged chan struct{}

	mu      sync.RWMutex
	running bool
	written journal.ProcessedPosition
	stats   Stats
}

// New creates a new CDC pipeline. The checkpoint and buffer managers may be
// nil when the matching feature is disabled.
func New(src source.Source, cp checkpoint.Manager, buf buffer.Manager, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipeline", "source", src.Name())

	p := &Pipeline{
		source:       src,
		checkpoint:   cp,
		buffer:       buf,
		retryer:      NewRetryer(cfg.Retry, src.Name(), logger),
		config:       cfg,
		logger:       logger,
		stateChanged: make(chan struct{}, 1),
	}
	p.state = NewStateMachine(StateGauge(src.Name()), p.onStateChange)
	return p
}

func (p *Pipeline) onStateChange(from, to State) {
	p.logger.Debug("pipeline state changed", "from", from.String(), "to", to.String())
	select {
	case p.stateChanged <- struct{}{}:
	default:
	}
}

// State returns the pipeline's state machine.
func (p *Pipeline) State() *StateMachine {
	return p.state
}

// Run restores the checkpoint, starts the source and moves events into the
// buffer until ctx is cancelled, the source ends or an error occurs.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if p.state.IsTerminal() {
		if err := p.state.Transition(StateStarting); err != nil {
			return err
		}
	}

	p.logger.Info("starting CDC pipeline")

	if p.checkpointing() {
		if err := p.restoreCheckpoint(ctx); err != nil {
			p.fail(err)
			return fmt.Errorf("restore checkpoint: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, errs := p.source.Start(runCtx)

	if p.buffer != nil && p.config.BufferEnabled && p.config.Backpressure.Enabled {
		bp := NewBackpressureController(p.config.Backpressure, BufferDepth(p.buffer, p.source.Name()), p.state, p.logger)
		go bp.Start(runCtx)
	}

	var checkpointCh <-chan time.Time
	if p.checkpointing() {
		ticker := time.NewTicker(p.config.CheckpointInterval)
		defer ticker.Stop()
		checkpointCh = ticker.C
	}

	if err := p.state.Transition(StateRunning); err != nil {
		return err
	}
	p.logger.Info("pipeline running")

	for {
		in := events
		if p.state.IsPaused() {
			in = nil
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return p.shutdown(p.source.Position())

		case <-p.stateChanged:

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.recordError("source")
			p.stop(p.source.Position())
			p.fail(err)
			return fmt.Errorf("source error: %w", err)

		case event, ok := <-in:
			if !ok {
				p.logger.Info("source closed its event stream")
				if err := p.drainError(errs); err != nil {
					p.recordError("source")
					p.stop(p.source.Position())
					p.fail(err)
					return fmt.Errorf("source error: %w", err)
				}
				return p.shutdown(p.source.Position())
			}

			if err := p.processEvent(ctx, event); err != nil {
				p.recordError("buffer")
				p.mu.RLock()
				written := p.written
				p.mu.RUnlock()
				p.stop(written)
				p.fail(err)
				return fmt.Errorf("buffer write: %w", err)
			}

		case <-checkpointCh:
			if err := p.saveCheckpoint(ctx, p.source.Position()); err != nil {
				p.recordError("checkpoint")
				p.logger.Error("failed to save checkpoint", "error", err)
			}
		}
	}
}

func (p *Pipeline) checkpointing() bool {
	return p.config.CheckpointEnabled && p.checkpoint != nil
}

// shutdown stops the source, saves pos and moves to StateStopped.
func (p *Pipeline) shutdown(pos journal.ProcessedPosition) error {
	if err := p.state.Transition(StateStopping); err != nil {
		p.logger.Debug("stopping from unexpected state", "error", err)
	}

	stopErr := p.source.Stop(context.Background())
	if p.checkpointing() {
		if err := p.saveCheckpoint(context.Background(), pos); err != nil {
			p.logger.Error("failed to save final checkpoint", "error", err)
		}
	}

	if err := p.state.Transition(StateStopped); err != nil {
		p.logger.Debug("stopped from unexpected state", "error", err)
	}
	p.logger.Info("pipeline stopped", "position", pos.String())
	return stopErr
}

// stop stops the source after a failure and saves pos.
func (p *Pipeline) stop(pos journal.ProcessedPosition) {
	if err := p.source.Stop(context.Background()); err != nil {
		p.logger.Warn("failed to stop source", "error", err)
	}
	if p.checkpointing() {
		if err := p.saveCheckpoint(context.Background(), pos); err != nil {
			p.logger.Error("failed to save checkpoint after failure", "error", err)
		}
	}
}

// drainError returns the error a stopped source reported, if any.
func (p *Pipeline) drainError(errs <-chan error) error {
	if errs == nil {
		return nil
	}
	return <-errs
}

func (p *Pipeline) fail(err error) {
	p.logger.Error("pipeline failed", "error", err)
	if tErr := p.state.Transition(StateFailed); tErr != nil {
		p.logger.Debug("failed from unexpected state", "error", tErr)
	}
}

func (p *Pipeline) recordError(kind string) {
	metrics.CDCErrorsTotal.WithLabelValues(p.source.Name(), kind).Inc()
	p.mu.Lock()
	p.stats.Errors++
	p.mu.Unlock()
}

func (p *Pipeline) processEvent(ctx context.Context, event cdc.Event) error {
	if p.config.BufferEnabled && p.buffer != nil {
		err := p.retryer.Execute(ctx, func(ctx context.Context) error {
			return p.buffer.Write(ctx, []cdc.Event{event})
		})
		if err != nil {
			metrics.BufferWritesTotal.WithLabelValues(p.source.Name(), "failed").Inc()
			return err
		}
		metrics.BufferWritesTotal.WithLabelValues(p.source.Name(), "success").Inc()
	}

	metrics.CDCEventsTotal.WithLabelValues(p.source.Name(), event.FullyQualifiedTable(), string(event.Operation)).Inc()
	if !event.Timestamp.IsZero() {
		metrics.CDCLagSeconds.WithLabelValues(p.source.Name(), event.FullyQualifiedTable()).Set(time.Since(event.Timestamp).Seconds())
	}

	p.mu.Lock()
	p.written = event.Position
	p.stats.EventsProcessed++
	if p.config.BufferEnabled && p.buffer != nil {
		p.stats.EventsBuffered++
	}
	p.stats.LastEventTime = time.Now()
	p.mu.Unlock()

	p.logger.Debug("processed event",
		"table", event.FullyQualifiedTable(),
		"operation", event.Operation,
		"position", event.Position.String(),
	)
	return nil
}

func (p *Pipeline) saveCheckpoint(ctx context.Context, pos journal.ProcessedPosition) error {
	if !pos.IsSet() {
		return nil
	}

	p.mu.RLock()
	unchanged := pos == p.stats.LastCheckpoint
	p.mu.RUnlock()
	if unchanged {
		return nil
	}

	cp := cdc.NewCheckpoint(p.source.Name(), pos)
	cp.CommittedAt = time.Now()
	if err := p.checkpoint.Save(ctx, cp); err != nil {
		return err
	}

	p.mu.Lock()
	p.stats.LastCheckpoint = pos
	p.stats.LastCheckpointAt = cp.CommittedAt
	p.mu.Unlock()

	p.logger.Debug("checkpoint saved", "position", pos.String())
	return nil
}

func (p *Pipeline) restoreCheckpoint(ctx context.Context) error {
	cp, err := p.checkpoint.Load(ctx, p.source.Name())
	if err != nil {
		return err
	}

	if cp == nil {
		p.logger.Info("no checkpoint found, starting from the beginning of the journal")
		return nil
	}

	pos := cp.Position()
	if err := p.source.Seek(pos); err != nil {
		return err
	}

	p.mu.Lock()
	p.written = pos
	p.stats.LastCheckpoint = pos
	p.stats.LastCheckpointAt = cp.CommittedAt
	p.mu.Unlock()

	p.logger.Info("restored checkpoint",
		"position", pos.String(),
		"committed_at", cp.CommittedAt,
	)
	return nil
}

// Stats returns the current pipeline statistics.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// IsRunning returns whether the pipeline is currently running.
func (p *Pipeline) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
