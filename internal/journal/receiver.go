// Package journal provides the value types shared by the IBM i journal
// retrieval engine: receivers, sequence positions and resumable positions.
package journal

import (
	"fmt"
	"strings"
	"time"
)

// MaxNameLength is the maximum length of an IBM i object or library name.
const MaxNameLength = 10

// ObjectName is a library-qualified IBM i object name, such as a journal.
type ObjectName struct {
	// Name is the object name.
	Name string `json:"name"`

	// Library is the library containing the object.
	Library string `json:"library"`
}

// NewObjectName returns an ObjectName with both parts trimmed.
func NewObjectName(name, library string) ObjectName {
	return ObjectName{
		Name:    strings.TrimSpace(name),
		Library: strings.TrimSpace(library),
	}
}

// Validate checks that both parts are present and fit the host limits.
func (o ObjectName) Validate() error {
	if o.Name == "" || o.Library == "" {
		return fmt.Errorf("object name %q: name and library are required", o.String())
	}
	if len(o.Name) > MaxNameLength || len(o.Library) > MaxNameLength {
		return fmt.Errorf("object name %q: parts must be at most %d characters", o.String(), MaxNameLength)
	}
	return nil
}

// String returns the name in LIBRARY/NAME form.
func (o ObjectName) String() string {
	return o.Library + "/" + o.Name
}

// Receiver identifies a journal receiver. It is comparable and is used as a
// map key throughout the engine.
type Receiver struct {
	// Name is the receiver name.
	Name string `json:"name"`

	// Library is the library containing the receiver.
	Library string `json:"library"`
}

// NewReceiver returns a Receiver with both parts trimmed.
func NewReceiver(name, library string) Receiver {
	return Receiver{
		Name:    strings.TrimSpace(name),
		Library: strings.TrimSpace(library),
	}
}

// IsZero returns true if the receiver is not set.
func (r Receiver) IsZero() bool {
	return r.Name == "" && r.Library == ""
}

// String returns the receiver in LIBRARY/NAME form.
func (r Receiver) String() string {
	if r.IsZero() {
		return "<none>"
	}
	return r.Library + "/" + r.Name
}

// ReceiverStatus is the host status of a journal receiver.
type ReceiverStatus int

const (
	// StatusUnknown indicates a status code the engine does not recognise.
	StatusUnknown ReceiverStatus = iota
	// StatusAttached indicates the receiver is currently receiving entries.
	StatusAttached
	// StatusOnlineSavedDetached indicates a detached receiver whose entries
	// are still online, whether or not it has been saved.
	StatusOnlineSavedDetached
	// StatusFreed indicates the receiver storage was freed after a save.
	StatusFreed
	// StatusPartial indicates the receiver chain link could not be resolved.
	StatusPartial
	// StatusEmpty indicates the receiver has never been attached.
	StatusEmpty
)

// ParseReceiverStatus maps a host status code to a ReceiverStatus.
func ParseReceiverStatus(code string) ReceiverStatus {
	switch strings.TrimSpace(code) {
	case "1":
		return StatusAttached
	case "2", "3":
		return StatusOnlineSavedDetached
	case "4":
		return StatusFreed
	case "5":
		return StatusPartial
	case "6":
		return StatusEmpty
	default:
		return StatusUnknown
	}
}

// String returns the string representation of the status.
func (s ReceiverStatus) String() string {
	switch s {
	case StatusAttached:
		return "attached"
	case StatusOnlineSavedDetached:
		return "online-saved-detached"
	case StatusFreed:
		return "freed"
	case StatusPartial:
		return "partial"
	case StatusEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Cacheable returns true if receivers with this status never change. An
// attached receiver keeps growing and must always be re-read.
func (s ReceiverStatus) Cacheable() bool {
	return s != StatusAttached && s != StatusUnknown
}

// ReceiverInfo describes a receiver as it appears in the journal's receiver
// directory.
type ReceiverInfo struct {
	Receiver   Receiver       `json:"receiver"`
	AttachTime time.Time      `json:"attach_time"`
	Status     ReceiverStatus `json:"status"`
	ChainID    int            `json:"chain_id"`
}

// DetailedReceiver is a receiver together with its sequence number bounds and
// the link to the receiver that replaced it.
type DetailedReceiver struct {
	Info ReceiverInfo `json:"info"`

	// Start is the sequence number of the first entry in the receiver.
	Start Offset `json:"start"`

	// End is the sequence number of the last entry in the receiver. It keeps
	// growing while the receiver is attached.
	End Offset `json:"end"`

	// Next is the receiver attached when this one was detached. It is zero
	// for the attached receiver and whenever the host could not resolve it.
	Next Receiver `json:"next"`

	MaxEntryLength  int    `json:"max_entry_length"`
	NumberOfEntries uint64 `json:"number_of_entries"`
}

// Receiver returns the receiver identity.
func (d DetailedReceiver) Receiver() Receiver {
	return d.Info.Receiver
}

// HasNext returns true if the receiver points at a successor.
func (d DetailedReceiver) HasNext() bool {
	return !d.Next.IsZero()
}

// IsEmpty returns true if the receiver holds no entries.
func (d DetailedReceiver) IsEmpty() bool {
	return d.NumberOfEntries == 0 && d.Start == 0 && d.End == 0
}

// EndPosition returns the position of the last entry in the receiver.
func (d DetailedReceiver) EndPosition() Position {
	return Position{Offset: d.End, Receiver: d.Info.Receiver}
}

// StartPosition returns the position of the first entry in the receiver.
func (d DetailedReceiver) StartPosition() Position {
	return Position{Offset: d.Start, Receiver: d.Info.Receiver}
}
