package wire

import (
	"fmt"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// EntryHeaderSize is the size of a fixed entry header in format RJNE0200.
const EntryHeaderSize = 228

// ReceiverInfoSize is the size of the receiver block that follows an entry
// header when the entry is the first of a receiver.
const ReceiverInfoSize = 34

// esdPrefixSize is the size of the length prefix of entry-specific data.
const esdPrefixSize = 16

// Entry header layout.
const (
	entDispNext      = 0
	entDispNull      = 4
	entDispESD       = 8
	entDispTxn       = 12
	entDispLUW       = 16
	entDispReceiver  = 20
	entSequence      = 24
	entTimestamp     = 32
	entThreadID      = 40
	entSystemSeq     = 48
	entCountRRN      = 56
	entCommitCycle   = 64
	entPointerHandle = 72
	entRemotePort    = 76
	entArmNumber     = 78
	entASPNumber     = 80
	entRemoteAddress = 82
	entJournalCode   = 98
	entEntryType     = 99
	entJobName       = 101
	entUserName      = 111
	entJobNumber     = 121
	entProgramName   = 127
	entProgramLib    = 137
	entProgramASP    = 147
	entObject        = 157
	entUserProfile   = 187
	entJournalID     = 197
	entAddressFamily = 207
	entSystemName    = 208
	entIndicatorFlag = 216
	entObjectNameInd = 217
	entFlags         = 218
	entNestedCommit  = 220
)

// Entry flag bits.
const (
	FlagReferentialConstraint = 0x80
	FlagTrigger               = 0x40
	FlagIncompleteData        = 0x20
	FlagIgnoredByApply        = 0x10
	FlagMinimizedESD          = 0x08
)

// EntryHeader is the decoded fixed header of one journal entry.
type EntryHeader struct {
	// Offset is the buffer offset of the entry.
	Offset int

	// NextEntryOffset is the buffer offset of the next entry, or 0 for the
	// last entry of the buffer.
	NextEntryOffset int

	// End is the buffer offset one past the entry's last byte.
	End int

	// NullValueOffset is the buffer offset of the null value indicators, or
	// 0 if the entry has none.
	NullValueOffset int

	// EntrySpecificDataOffset is the buffer offset of the entry-specific
	// data prefix, or 0 if the entry has none.
	EntrySpecificDataOffset int

	TransactionIDOffset int
	LUWOffset           int

	SequenceNumber journal.Offset
	Time           time.Time
	ThreadID       uint64
	SystemSequence uint64
	CountRRN       uint64
	CommitCycleID  uint64
	PointerHandle  uint32
	RemotePort     uint16
	ArmNumber      uint16
	ASPNumber      uint16
	RemoteAddress  string

	JournalCode string
	EntryType   string

	JobName          string
	UserName         string
	JobNumber        string
	ProgramName      string
	ProgramLibrary   string
	ProgramASPDevice string

	// File, Library and Member name the journaled object.
	File    string
	Library string
	Member  string

	UserProfile         string
	JournalID           string
	AddressFamily       string
	SystemName          string
	IndicatorFlag       string
	ObjectNameIndicator string
	Flags               byte
	NestedCommitLevel   string

	// Receiver is set only on the first entry of a receiver. A zero value
	// means the entry belongs to the same receiver as the previous one.
	Receiver          journal.Receiver
	ReceiverASPDevice string
	ReceiverASPNumber int
}

// Position returns the entry's position. The receiver is zero unless the
// entry starts a new receiver.
func (h EntryHeader) Position() journal.Position {
	return journal.Position{Offset: h.SequenceNumber, Receiver: h.Receiver}
}

// Object returns the qualified name of the journaled file.
func (h EntryHeader) Object() journal.ObjectName {
	return journal.NewObjectName(h.File, h.Library)
}

// Kind returns the journal code and entry type, for example "R.PT".
func (h EntryHeader) Kind() string {
	return h.JournalCode + "." + h.EntryType
}

// MinimizedESD returns true if the entry-specific data only holds changed
// columns.
func (h EntryHeader) MinimizedESD() bool {
	return h.Flags&FlagMinimizedESD != 0
}

// IncompleteData returns true if the host omitted part of the entry.
func (h EntryHeader) IncompleteData() bool {
	return h.Flags&FlagIncompleteData != 0
}

// EntryError reports an entry that can be located in the buffer but whose
// contents are malformed. Header holds the fixed fields, the receiver and the
// buffer offsets of the entry; its data displacements are zero.
type EntryError struct {
	Header EntryHeader
	Err    error
}

func (e *EntryError) Error() string {
	return e.Err.Error()
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// DecodeEntryHeader decodes the entry starting at off. An entry whose data
// displacements are out of bounds is returned together with an *EntryError,
// so that iteration can continue at the next entry.
func DecodeEntryHeader(buf []byte, off int) (EntryHeader, error) {
	if err := need(buf, off, EntryHeaderSize, "entry header"); err != nil {
		return EntryHeader{}, err
	}
	e := buf[off:]

	h := EntryHeader{
		Offset: off,
		End:    len(buf),

		SequenceNumber: journal.Offset(u64(e, entSequence)),
		Time:           DecodeTimestamp(e[entTimestamp : entTimestamp+8]),
		ThreadID:       u64(e, entThreadID),
		SystemSequence: u64(e, entSystemSeq),
		CountRRN:       u64(e, entCountRRN),
		CommitCycleID:  u64(e, entCommitCycle),
		PointerHandle:  uint32(u32(e, entPointerHandle)),
		RemotePort:     u16(e, entRemotePort),
		ArmNumber:      u16(e, entArmNumber),
		ASPNumber:      u16(e, entASPNumber),
		RemoteAddress:  text(e, entRemoteAddress, 16),

		JournalCode: text(e, entJournalCode, 1),
		EntryType:   text(e, entEntryType, 2),

		JobName:          text(e, entJobName, 10),
		UserName:         text(e, entUserName, 10),
		JobNumber:        text(e, entJobNumber, 6),
		ProgramName:      text(e, entProgramName, 10),
		ProgramLibrary:   text(e, entProgramLib, 10),
		ProgramASPDevice: text(e, entProgramASP, 10),

		File:    text(e, entObject, 10),
		Library: text(e, entObject+10, 10),
		Member:  text(e, entObject+20, 10),

		UserProfile:         text(e, entUserProfile, 10),
		JournalID:           text(e, entJournalID, 10),
		AddressFamily:       text(e, entAddressFamily, 1),
		SystemName:          text(e, entSystemName, 8),
		IndicatorFlag:       text(e, entIndicatorFlag, 1),
		ObjectNameIndicator: text(e, entObjectNameInd, 1),
		Flags:               e[entFlags],
		NestedCommitLevel:   text(e, entNestedCommit, 8),
	}

	if d := u32(e, entDispNext); d > 0 {
		if d < EntryHeaderSize || off+d > len(buf) {
			return EntryHeader{}, fmt.Errorf("%w: entry %s: next entry displacement %d", ErrMalformed, h.SequenceNumber, d)
		}
		h.NextEntryOffset = off + d
		h.End = off + d
	}

	length := h.End - off
	if d := u32(e, entDispReceiver); d > 0 {
		if d < EntryHeaderSize || d+ReceiverInfoSize > length {
			return EntryHeader{}, fmt.Errorf("%w: entry %s: receiver displacement %d outside entry of %d bytes", ErrMalformed, h.SequenceNumber, d, length)
		}
		h.Receiver = journal.NewReceiver(text(e, d, 10), text(e, d+10, 10))
		h.ReceiverASPDevice = text(e, d+20, 10)
		h.ReceiverASPNumber = u32(e, d+30)
	}

	displacements := []struct {
		at   int
		name string
		dst  *int
	}{
		{entDispNull, "null indicators", &h.NullValueOffset},
		{entDispESD, "entry-specific data", &h.EntrySpecificDataOffset},
		{entDispTxn, "transaction id", &h.TransactionIDOffset},
		{entDispLUW, "logical unit of work", &h.LUWOffset},
	}
	for _, disp := range displacements {
		d := u32(e, disp.at)
		if d == 0 {
			continue
		}
		if d < EntryHeaderSize || d >= length {
			h.NullValueOffset, h.EntrySpecificDataOffset, h.TransactionIDOffset, h.LUWOffset = 0, 0, 0, 0
			return h, &EntryError{
				Header: h,
				Err:    fmt.Errorf("%w: entry %s: %s displacement %d outside entry of %d bytes", ErrMalformed, h.SequenceNumber, disp.name, d, length),
			}
		}
		*disp.dst = off + d
	}

	return h, nil
}

// NullIndicators holds one indicator byte per column of a row.
type NullIndicators []byte

// IsNull returns true if column i is null. Columns without an indicator are
// not null.
func (n NullIndicators) IsNull(i int) bool {
	if i < 0 || i >= len(n) {
		return false
	}
	return n[i]&0x0F == 1
}

// Len returns the number of indicators.
func (n NullIndicators) Len() int {
	return len(n)
}

// DecodeNullIndicators returns the null value indicators of the entry. It
// returns nil if the entry has none.
func DecodeNullIndicators(buf []byte, h EntryHeader) (NullIndicators, error) {
	off := h.NullValueOffset
	if off == 0 {
		return nil, nil
	}
	if err := need(buf[:h.End], off, 4, "null indicator length"); err != nil {
		return nil, err
	}
	n := u32(buf, off)
	if err := need(buf[:h.End], off+4, n, "null indicators"); err != nil {
		return nil, err
	}
	return NullIndicators(buf[off+4 : off+4+n]), nil
}

// DecodeEntrySpecificData returns the row payload of the entry, without its
// length prefix. A nil result means the entry carries no entry-specific
// data, which for record entries means before images are not journaled.
func DecodeEntrySpecificData(buf []byte, h EntryHeader) ([]byte, error) {
	off := h.EntrySpecificDataOffset
	if off == 0 {
		return nil, nil
	}
	if err := need(buf[:h.End], off, esdPrefixSize, "entry-specific data length"); err != nil {
		return nil, err
	}
	n, err := zoned(buf[off : off+5])
	if err != nil {
		return nil, fmt.Errorf("entry %s: entry-specific data length: %w", h.SequenceNumber, err)
	}
	if n == 0 {
		return nil, nil
	}
	if err := need(buf[:h.End], off+esdPrefixSize, n, "entry-specific data"); err != nil {
		return nil, err
	}
	return buf[off+esdPrefixSize : off+esdPrefixSize+n], nil
}
