// Package pipeline moves change events from a journal source into the event
// buffer and records how far it got.
package pipeline

import "errors"

var (
	// ErrInvalidConfig is returned for invalid pipeline settings.
	ErrInvalidConfig = errors.New("pipeline: invalid configuration")

	// ErrAlreadyRunning is returned by Run while the pipeline runs.
	ErrAlreadyRunning = errors.New("pipeline: already running")

	// ErrInvalidTransition is returned for state changes the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("pipeline: invalid state transition")
)
