package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

// RetryPolicy defines the retry behavior.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the wait after the first failure.
	InitialInterval time.Duration

	// MaxInterval caps the wait between attempts.
	MaxInterval time.Duration

	// Multiplier grows the wait after each failure.
	Multiplier float64

	// Jitter spreads each wait by up to a quarter in either direction.
	Jitter bool
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}
}

// Validate checks the policy.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	}
	if p.InitialInterval < 0 || p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("%w: retry intervals must satisfy 0 <= initial <= max", ErrInvalidConfig)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("%w: retry multiplier must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// RetryError is the failure of an operation after its last attempt.
type RetryError struct {
	Err      error
	Attempts int
	LastWait time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Retryable is implemented by errors that know whether repeating the
// failed operation can succeed. Journal errors implement it.
type Retryable interface {
	IsRetryable() bool
}

// RetryableError overrides the classification of a wrapped error.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns the classification.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

// NewRetryableError wraps an error as retryable.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError wraps an error as non-retryable.
func NewNonRetryableError(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable classifies err. Errors that do not classify themselves are
// retryable unless they come from a cancelled or expired context.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Retryer runs operations again after retryable failures, backing off
// exponentially between attempts.
type Retryer struct {
	policy RetryPolicy
	name   string
	logger *slog.Logger
}

// NewRetryer creates a new Retryer. The name labels the retry metric and
// may be empty.
func NewRetryer(policy RetryPolicy, name string, logger *slog.Logger) *Retryer {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retryer{
		policy: policy,
		name:   name,
		logger: logger.With("component", "retryer"),
	}
}

// Execute runs the operation until it succeeds, fails with an error that is
// not retryable, or has used every attempt. Failures are returned as a
// *RetryError.
func (r *Retryer) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	var waited time.Duration

	for attempt := 1; ; attempt++ {
		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debug("operation succeeded after retry", "attempt", attempt, "total_wait", waited)
			}
			return nil
		}

		if !IsRetryable(err) || attempt >= r.policy.MaxAttempts {
			return &RetryError{Err: err, Attempts: attempt, LastWait: waited}
		}

		if r.name != "" {
			metrics.CDCRetriesTotal.WithLabelValues(r.name).Inc()
		}

		wait := r.backoff(attempt)
		waited += wait
		r.logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &RetryError{Err: ctx.Err(), Attempts: attempt, LastWait: waited}
		case <-timer.C:
		}
	}
}

// backoff returns the wait after the given failed attempt.
func (r *Retryer) backoff(attempt int) time.Duration {
	wait := float64(r.policy.InitialInterval) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	wait = min(wait, float64(r.policy.MaxInterval))

	d := time.Duration(wait)
	if r.policy.Jitter && d >= 4 {
		spread := d / 4
		d = d - spread + time.Duration(rand.Int64N(int64(spread*2)))
	}
	return d
}
