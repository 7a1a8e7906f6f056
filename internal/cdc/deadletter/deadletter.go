// Package deadletter keeps journal entries that could not be turned into
// change events, so that the stream can advance past them.
package deadletter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire"
)

// ErrNotFound is returned when no dead-letter entry matches an id.
var ErrNotFound = errors.New("deadletter: entry not found")

// ErrorType classifies why an entry was dead-lettered.
type ErrorType string

const (
	// ErrorTypeDecode means the record image could not be decoded.
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeSchema means the table layout could not be built from the
	// catalog.
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeTransient indicates a temporary error that may succeed on retry.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeUnknown indicates an unknown error type.
	ErrorTypeUnknown ErrorType = "unknown"
)

// FailedEntry is a journal entry that could not be processed.
type FailedEntry struct {
	// ID is the unique identifier for this dead-letter entry.
	ID int64 `json:"id"`

	// SourceID identifies the CDC source.
	SourceID string `json:"source_id"`

	// SchemaName and TableName name the journaled table, as far as they
	// could be resolved.
	SchemaName string `json:"schema_name"`
	TableName  string `json:"table_name"`

	// EntryType is the journal code and entry type, such as "R.PT".
	EntryType string `json:"entry_type"`

	// Position is the position of the entry in the journal.
	Position journal.Position `json:"position"`

	// EntryData is the decoded entry header as JSON.
	EntryData json.RawMessage `json:"entry_data"`

	// RawEntry holds the undecoded entry bytes.
	RawEntry []byte `json:"raw_entry"`

	// ErrorMessage is the error that caused the failure.
	ErrorMessage string `json:"error_message"`

	// ErrorType classifies the type of error.
	ErrorType ErrorType `json:"error_type"`

	// RetryCount is the number of times this entry has been replayed.
	RetryCount int `json:"retry_count"`

	// CreatedAt is when the entry was added.
	CreatedAt time.Time `json:"created_at"`

	// LastRetryAt is when the entry was last replayed.
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`

	// ExpiresAt is when the entry will be deleted.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Manager defines the interface for dead-letter queue operations.
type Manager interface {
	// Write adds a failed entry to the dead-letter queue.
	Write(ctx context.Context, entry FailedEntry) error

	// Read retrieves failed entries in the order they were added.
	Read(ctx context.Context, limit int) ([]FailedEntry, error)

	// ReadBySource retrieves failed entries of one source.
	ReadBySource(ctx context.Context, sourceID string, limit int) ([]FailedEntry, error)

	// ReadByTable retrieves failed entries of one table.
	ReadByTable(ctx context.Context, schemaName, tableName string, limit int) ([]FailedEntry, error)

	// MarkRetried updates the retry count and last retry time.
	MarkRetried(ctx context.Context, id int64) error

	// Delete removes entries from the dead-letter queue.
	Delete(ctx context.Context, ids ...int64) error

	// Cleanup removes expired entries from the dead-letter queue.
	Cleanup(ctx context.Context) (int64, error)

	// Count returns the number of entries in the dead-letter queue.
	Count(ctx context.Context) (int64, error)

	// Close releases any resources held by the manager.
	Close() error
}

// entryDump is the JSON form of an entry header.
type entryDump struct {
	Sequence      string    `json:"sequence"`
	Receiver      string    `json:"receiver"`
	JournalCode   string    `json:"journal_code"`
	EntryType     string    `json:"entry_type"`
	Time          time.Time `json:"time"`
	Object        string    `json:"object"`
	Member        string    `json:"member,omitempty"`
	Job           string    `json:"job"`
	User          string    `json:"user"`
	Program       string    `json:"program"`
	CountRRN      uint64    `json:"count_rrn"`
	CommitCycleID uint64    `json:"commit_cycle_id,omitempty"`
	Flags         string    `json:"flags"`
	RawHex        string    `json:"raw_hex,omitempty"`
}

// FromEntry creates a FailedEntry from a journal entry and the error that
// stopped it.
func FromEntry(sourceID string, h wire.EntryHeader, pos journal.Position, raw []byte, err error, errType ErrorType, retention time.Duration) (FailedEntry, error) {
	data, marshalErr := json.Marshal(entryDump{
		Sequence:      h.SequenceNumber.String(),
		Receiver:      pos.Receiver.String(),
		JournalCode:   h.JournalCode,
		EntryType:     h.EntryType,
		Time:          h.Time,
		Object:        h.Object().String(),
		Member:        h.Member,
		Job:           h.JobNumber + "/" + h.UserName + "/" + h.JobName,
		User:          h.UserProfile,
		Program:       h.ProgramLibrary + "/" + h.ProgramName,
		CountRRN:      h.CountRRN,
		CommitCycleID: h.CommitCycleID,
		Flags:         hex.EncodeToString([]byte{h.Flags}),
		RawHex:        hex.EncodeToString(raw),
	})
	if marshalErr != nil {
		return FailedEntry{}, marshalErr
	}

	now := time.Now()
	expiresAt := now.Add(retention)

	return FailedEntry{
		SourceID:     sourceID,
		SchemaName:   h.Library,
		TableName:    h.File,
		EntryType:    h.Kind(),
		Position:     pos,
		EntryData:    data,
		RawEntry:     raw,
		ErrorMessage: err.Error(),
		ErrorType:    errType,
		CreatedAt:    now,
		ExpiresAt:    &expiresAt,
	}, nil
}

// Stats holds dead-letter queue statistics.
type Stats struct {
	// TotalCount is the total number of entries in the DLQ.
	TotalCount int64 `json:"total_count"`

	// BySource is the count grouped by source ID.
	BySource map[string]int64 `json:"by_source"`

	// ByErrorType is the count grouped by error type.
	ByErrorType map[ErrorType]int64 `json:"by_error_type"`

	// OldestEntry is when the oldest entry was added.
	OldestEntry *time.Time `json:"oldest_entry,omitempty"`

	// NewestEntry is when the newest entry was added.
	NewestEntry *time.Time `json:"newest_entry,omitempty"`
}
