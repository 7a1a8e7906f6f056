// Package source defines the CDC source contract.
package source

import (
	"context"

	"github.com/janovincze/philotes-ibmi/internal/cdc"
	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// Source produces change events from a journal.
type Source interface {
	// Seek sets the position to resume from. It must be called before
	// Start; a zero position starts from the oldest available entry.
	Seek(pos journal.ProcessedPosition) error

	// Start begins capturing events. The event channel is unbuffered. When
	// the source stops it closes the event channel, sends the error that
	// stopped it, if any, and closes the error channel.
	Start(ctx context.Context) (<-chan cdc.Event, <-chan error)

	// Stop stops the source and waits for it to release its resources.
	Stop(ctx context.Context) error

	// Position returns the position to persist: every entry up to it has
	// either been delivered as an event or needed no event.
	Position() journal.ProcessedPosition

	// Name returns the name of this source.
	Name() string
}

// Config holds common configuration for CDC sources.
type Config struct {
	// Name is a unique identifier for this source.
	Name string
}
