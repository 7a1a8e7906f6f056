package retrieve

import (
	"errors"
	"fmt"

	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire"
)

var (
	// ErrInvalidMaxEntries is returned when MaxEntries is zero.
	ErrInvalidMaxEntries = errors.New("retrieve: max entries must be positive")

	// ErrInvalidBufferSize is returned when the buffer cannot hold a header.
	ErrInvalidBufferSize = errors.New("retrieve: buffer size too small")
)

// Config holds retrieval configuration.
type Config struct {
	// Journal is the qualified journal name.
	Journal journal.ObjectName

	// MaxEntries caps the number of entries covered by one retrieval range.
	MaxEntries uint64

	// BufferSize is the size of the receiver variable of one call.
	BufferSize int

	// JournalCodes restricts the journal codes retrieved. Empty means all.
	JournalCodes []string

	// EntryTypes restricts the entry types retrieved. Empty means all.
	EntryTypes []string

	// Files restricts the journaled files retrieved. Empty means all. Lists
	// longer than the host limit are filtered by the retriever instead.
	Files []journal.ObjectName

	// FailOnBufferTooSmall makes a buffer too small for a single entry a
	// fatal error instead of skipping to the continuation.
	FailOnBufferTooSmall bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:   10000,
		BufferSize:   4 * 1024 * 1024,
		JournalCodes: []string{"C", "D", "F", "R"},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("retrieve: journal: %w", err)
	}
	if c.MaxEntries == 0 {
		return ErrInvalidMaxEntries
	}
	if c.BufferSize < wire.FirstHeaderSize+wire.EntryHeaderSize {
		return ErrInvalidBufferSize
	}
	for _, f := range c.Files {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("retrieve: file filter: %w", err)
		}
	}
	return nil
}
