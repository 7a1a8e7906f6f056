// Package cdc defines the change events produced from IBM i journals and the
// checkpoints that record how far a source has read.
package cdc

import (
	"time"

	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// Operation is the kind of row change an event carries.
type Operation string

const (
	// OperationInsert is a row added to a table.
	OperationInsert Operation = "INSERT"
	// OperationUpdate is a row changed in place.
	OperationUpdate Operation = "UPDATE"
	// OperationDelete is a row removed from a table.
	OperationDelete Operation = "DELETE"
	// OperationTruncate is a table member cleared of all rows.
	OperationTruncate Operation = "TRUNCATE"
)

// Event is one row change read from a journal.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Source names the source that produced the event.
	Source string `json:"source"`

	// Position is the resumption point once this event has been handled.
	Position journal.ProcessedPosition `json:"position"`

	// CommitCycleID groups the entries of one commitment control cycle. It
	// is 0 for changes made outside commitment control.
	CommitCycleID uint64 `json:"commit_cycle_id,omitempty"`

	// Timestamp is when the host wrote the journal entry.
	Timestamp time.Time `json:"timestamp"`

	// Schema is the SQL schema (library) of the table.
	Schema string `json:"schema"`

	// Table is the SQL table name.
	Table string `json:"table"`

	// Operation is the type of row change.
	Operation Operation `json:"operation"`

	// EntryType is the journal code and entry type, such as "R.UP".
	EntryType string `json:"entry_type"`

	// Before holds the row before an update or delete.
	Before map[string]any `json:"before,omitempty"`

	// After holds the row after an insert or update.
	After map[string]any `json:"after,omitempty"`

	// KeyColumns names the primary key columns of the table.
	KeyColumns []string `json:"key_columns,omitempty"`

	// Job, User and Program identify what made the change on the host.
	Job     string `json:"job,omitempty"`
	User    string `json:"user,omitempty"`
	Program string `json:"program,omitempty"`

	// Metadata contains additional event metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FullyQualifiedTable returns the table name in schema.table form.
func (e *Event) FullyQualifiedTable() string {
	return e.Schema + "." + e.Table
}

// HasBefore returns true if the event has a before image.
func (e *Event) HasBefore() bool {
	return len(e.Before) > 0
}

// HasAfter returns true if the event has an after image.
func (e *Event) HasAfter() bool {
	return len(e.After) > 0
}

// Key returns the primary key values of the event, taken from the after
// image when present and the before image otherwise.
func (e *Event) Key() map[string]any {
	row := e.After
	if len(row) == 0 {
		row = e.Before
	}
	if len(row) == 0 || len(e.KeyColumns) == 0 {
		return nil
	}

	key := make(map[string]any, len(e.KeyColumns))
	for _, c := range e.KeyColumns {
		key[c] = row[c]
	}
	return key
}

// Checkpoint is the persisted position of a source.
type Checkpoint struct {
	// SourceID identifies the source being checkpointed.
	SourceID string `json:"source_id"`

	// Offset is the journal sequence number of the position.
	Offset journal.Offset `json:"offset"`

	// ReceiverName and ReceiverLibrary name the receiver holding Offset.
	ReceiverName    string `json:"receiver_name"`
	ReceiverLibrary string `json:"receiver_library"`

	// EntryTime is the host time of the entry at Offset, if known.
	EntryTime time.Time `json:"entry_time,omitempty"`

	// Processed is true if the entry at Offset has been handled.
	Processed bool `json:"processed"`

	// CommittedAt is when this checkpoint was committed.
	CommittedAt time.Time `json:"committed_at"`

	// Metadata contains additional checkpoint metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewCheckpoint returns the checkpoint of a source at pos.
func NewCheckpoint(sourceID string, pos journal.ProcessedPosition) Checkpoint {
	return Checkpoint{
		SourceID:        sourceID,
		Offset:          pos.Offset,
		ReceiverName:    pos.Receiver.Name,
		ReceiverLibrary: pos.Receiver.Library,
		EntryTime:       pos.Time,
		Processed:       pos.Processed,
	}
}

// Position returns the journal position the checkpoint records.
func (c Checkpoint) Position() journal.ProcessedPosition {
	return journal.ProcessedPosition{
		Offset:    c.Offset,
		Receiver:  journal.NewReceiver(c.ReceiverName, c.ReceiverLibrary),
		Time:      c.EntryTime,
		Processed: c.Processed,
	}
}
