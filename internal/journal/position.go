package journal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Offset is a journal sequence number. The host numbers entries from 1, so the
// zero value means "not set".
type Offset uint64

// ParseOffset parses a decimal sequence number as written by the host, which
// may be padded with blanks or leading zeros.
func ParseOffset(s string) (Offset, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sequence number %q: %w", s, err)
	}
	return Offset(v), nil
}

// String returns the decimal form of the offset.
func (o Offset) String() string {
	return strconv.FormatUint(uint64(o), 10)
}

// Add returns o+n, saturating at the largest representable sequence number.
func (o Offset) Add(n uint64) Offset {
	if uint64(o) > math.MaxUint64-n {
		return Offset(math.MaxUint64)
	}
	return o + Offset(n)
}

// Distance returns the number of steps from o to end, or 0 if end < o.
func (o Offset) Distance(end Offset) uint64 {
	if end < o {
		return 0
	}
	return uint64(end - o)
}

// Position is a point in the journal. It carries no resumption semantics.
type Position struct {
	Offset   Offset   `json:"offset"`
	Receiver Receiver `json:"receiver"`
}

// Equal returns true if both positions name the same entry.
func (p Position) Equal(other Position) bool {
	return p.Offset == other.Offset && p.Receiver == other.Receiver
}

// String returns a human readable form of the position.
func (p Position) String() string {
	return fmt.Sprintf("%s@%s", p.Receiver, p.Offset)
}

// ProcessedPosition is the durable resumption token.
//
// When Processed is true the entry at Offset has already been consumed and
// the next retrieval starts at that entry and skips it. When Processed is false
// the entry at Offset is the next one to fetch. The host offers no way to
// request "the entry after N" because asking for a sequence number that does
// not exist looks the same as a deleted receiver.
type ProcessedPosition struct {
	Offset    Offset    `json:"offset"`
	Receiver  Receiver  `json:"receiver"`
	Time      time.Time `json:"time"`
	Processed bool      `json:"processed"`
}

// BeginningPosition returns a position that starts from the first available
// entry of the journal.
func BeginningPosition() ProcessedPosition {
	return ProcessedPosition{}
}

// IsSet returns false when the position means "from the beginning".
func (p ProcessedPosition) IsSet() bool {
	return p.Offset != 0
}

// Position returns the coordinate without resumption semantics.
func (p ProcessedPosition) Position() Position {
	return Position{Offset: p.Offset, Receiver: p.Receiver}
}

// Matches returns true if pos names exactly the entry at this position.
func (p ProcessedPosition) Matches(pos Position) bool {
	return p.Position().Equal(pos)
}

// Consumed returns the position after the entry at offset has been consumed.
// A zero receiver keeps the current receiver, since entry headers only carry
// the receiver when it changes.
func (p ProcessedPosition) Consumed(offset Offset, receiver Receiver, at time.Time) ProcessedPosition {
	if receiver.IsZero() {
		receiver = p.Receiver
	}
	return ProcessedPosition{
		Offset:    offset,
		Receiver:  receiver,
		Time:      at,
		Processed: true,
	}
}

// ConsumedAt returns the position after the entry at pos has been consumed,
// keeping the time of the last processed entry.
func (p ProcessedPosition) ConsumedAt(pos Position) ProcessedPosition {
	return p.Consumed(pos.Offset, pos.Receiver, p.Time)
}

// NextAt returns a position whose next entry to fetch is pos.
func (p ProcessedPosition) NextAt(pos Position) ProcessedPosition {
	receiver := pos.Receiver
	if receiver.IsZero() {
		receiver = p.Receiver
	}
	return ProcessedPosition{
		Offset:    pos.Offset,
		Receiver:  receiver,
		Time:      p.Time,
		Processed: false,
	}
}

// String returns a human readable form of the position.
func (p ProcessedPosition) String() string {
	if !p.IsSet() {
		return "<beginning>"
	}
	state := "next"
	if p.Processed {
		state = "processed"
	}
	return fmt.Sprintf("%s@%s(%s)", p.Receiver, p.Offset, state)
}

// PositionRange is the inclusive range requested by one retrieval call.
type PositionRange struct {
	// FromBeginning is true when the retrieval starts at the first entry of
	// the receiver chain.
	FromBeginning bool `json:"from_beginning"`

	// Start is where the retrieval begins. It may differ from the position
	// the range was computed from when the start crossed into a successor
	// receiver.
	Start ProcessedPosition `json:"start"`

	// End is the last entry to retrieve.
	End Position `json:"end"`

	// JournalEnd is the last entry of the attached receiver when the range
	// was computed. End differs from it when the range was capped.
	JournalEnd Position `json:"journal_end"`
}

// StartEqualsEnd returns true if the range holds nothing new, because its
// start has already been processed and is also its end.
func (r PositionRange) StartEqualsEnd() bool {
	return r.Start.Processed && r.Start.Offset == r.End.Offset && r.Start.Receiver == r.End.Receiver
}

// Capped returns true if the range stops before the end of the journal.
func (r PositionRange) Capped() bool {
	return !r.End.Equal(r.JournalEnd)
}

// String returns a human readable form of the range.
func (r PositionRange) String() string {
	if r.FromBeginning {
		return fmt.Sprintf("[<beginning>, %s]", r.End)
	}
	return fmt.Sprintf("[%s, %s]", r.Start, r.End)
}
