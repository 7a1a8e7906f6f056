package ibmi

import (
	"strings"

	"github.com/google/uuid"

	"github.com/janovincze/philotes-ibmi/internal/cdc"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/rowdecode"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire"
)

// action is what the source does with a journal entry.
type action int

const (
	actionIgnore action = iota
	actionInsert
	actionBeforeImage
	actionUpdate
	actionDelete
	actionTruncate
	actionInvalidate
)

// classify returns the action for an entry. Record entries carry row
// images, file entries report member level changes and journal code D
// reports changes to the table definition.
func classify(h wire.EntryHeader) action {
	switch h.JournalCode {
	case "R":
		switch h.EntryType {
		case "PT", "PX":
			return actionInsert
		case "UB", "BR":
			return actionBeforeImage
		case "UP", "UR":
			return actionUpdate
		case "DL", "DR":
			return actionDelete
		}
	case "F":
		switch h.EntryType {
		case "CR":
			return actionTruncate
		case "CG", "RN", "RM":
			return actionInvalidate
		}
	case "D":
		return actionInvalidate
	}
	return actionIgnore
}

// imageKey identifies the row an update before image belongs to.
type imageKey struct {
	object journal.ObjectName
	rrn    uint64
}

func keyOf(h wire.EntryHeader) imageKey {
	return imageKey{object: h.Object(), rrn: h.CountRRN}
}

// pendingImage is a before image waiting for its update entry.
type pendingImage struct {
	row   *rowdecode.Row
	fetch uint64
}

// newEvent builds the event of a record entry.
func (r *Reader) newEvent(h wire.EntryHeader, pos journal.ProcessedPosition, op cdc.Operation, schema, table string) cdc.Event {
	program := h.ProgramName
	if h.ProgramLibrary != "" {
		program = h.ProgramLibrary + "/" + h.ProgramName
	}

	return cdc.Event{
		ID:            uuid.NewString(),
		Source:        r.config.Name,
		Position:      pos,
		CommitCycleID: h.CommitCycleID,
		Timestamp:     h.Time,
		Schema:        schema,
		Table:         table,
		Operation:     op,
		EntryType:     h.Kind(),
		Job:           strings.Join([]string{h.JobNumber, h.UserName, h.JobName}, "/"),
		User:          h.UserProfile,
		Program:       program,
		Metadata: map[string]any{
			"journal":  r.config.Journal.String(),
			"receiver": pos.Receiver.String(),
			"rrn":      h.CountRRN,
		},
	}
}

// rowEvent builds the event of a decoded row. The row is the before image
// of deletes and the after image otherwise.
func (r *Reader) rowEvent(h wire.EntryHeader, pos journal.ProcessedPosition, op cdc.Operation, row *rowdecode.Row) cdc.Event {
	ev := r.newEvent(h, pos, op, row.Table.Key.Schema, row.Table.Key.Table)
	ev.KeyColumns = row.Table.PrimaryKeys
	if op == cdc.OperationDelete {
		ev.Before = row.Map()
	} else {
		ev.After = row.Map()
	}
	return ev
}
