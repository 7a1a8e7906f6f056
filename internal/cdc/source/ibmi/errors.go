package ibmi

import "errors"

var (
	// ErrMissingJournal is returned when no journal is configured.
	ErrMissingJournal = errors.New("ibmi: journal name is required")

	// ErrInvalidTable is returned for a table that is not in SCHEMA.TABLE form.
	ErrInvalidTable = errors.New("ibmi: table must be SCHEMA.TABLE")

	// ErrInvalidPollInterval is returned for a non-positive poll interval.
	ErrInvalidPollInterval = errors.New("ibmi: poll interval must be positive")

	// ErrAlreadyStarted is returned when Start is called on an already started source.
	ErrAlreadyStarted = errors.New("ibmi: source already started")

	// ErrNotStarted is returned when Stop is called on a source that hasn't started.
	ErrNotStarted = errors.New("ibmi: source not started")

	// ErrNoTables is returned when every configured table has been dropped
	// from the journal filter.
	ErrNoTables = errors.New("ibmi: no capturable table left")

	// ErrDeadLetter is returned when an undecodable entry cannot be written
	// to the dead-letter queue.
	ErrDeadLetter = errors.New("ibmi: dead-letter write failed")
)
