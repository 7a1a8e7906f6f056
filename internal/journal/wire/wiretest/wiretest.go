// Package wiretest builds host journal buffers for tests.
package wiretest

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire"
)

// Entry describes one journal entry to encode.
type Entry struct {
	Sequence    journal.Offset
	JournalCode string
	EntryType   string
	Time        time.Time

	File    string
	Library string
	Member  string

	CommitCycleID uint64
	Flags         byte
	JobName       string
	UserName      string
	JobNumber     string
	ProgramName   string

	// Receiver is encoded in a receiver block when set.
	Receiver journal.Receiver

	// Nulls are encoded as null value indicators when non-nil.
	Nulls []bool

	// Data is encoded as entry-specific data when non-nil.
	Data []byte

	// DataDisplacement replaces the encoded entry-specific data
	// displacement when non-zero.
	DataDisplacement uint32
}

// Record returns a record-level entry for file APPLIB/file.
func Record(seq journal.Offset, entryType, file string, data []byte) Entry {
	return Entry{
		Sequence:    seq,
		JournalCode: "R",
		EntryType:   entryType,
		Time:        time.Date(2024, 1, 1, 12, 0, 0, int(seq)*1000, time.UTC),
		File:        file,
		Library:     "APPLIB",
		Member:      file,
		Data:        data,
	}
}

func put(dst []byte, s string) {
	if err := ccsid.PutText(dst, s); err != nil {
		panic(err)
	}
}

func align(n int) int {
	return n + (4-n%4)%4
}

// EncodeEntry returns the bytes of one entry. The next entry displacement is
// left at zero.
func EncodeEntry(e Entry) []byte {
	size := wire.EntryHeaderSize
	rcvAt, nullAt, esdAt := 0, 0, 0
	if !e.Receiver.IsZero() {
		rcvAt = size
		size = align(size + wire.ReceiverInfoSize)
	}
	if e.Nulls != nil {
		nullAt = size
		size = align(size + 4 + len(e.Nulls))
	}
	if e.Data != nil {
		esdAt = size
		size = align(size + 16 + len(e.Data))
	}

	b := make([]byte, size)
	for i := 82; i < wire.EntryHeaderSize; i++ {
		b[i] = ccsid.Blank
	}

	binary.BigEndian.PutUint32(b[4:], uint32(nullAt))
	binary.BigEndian.PutUint32(b[8:], uint32(esdAt))
	if e.DataDisplacement != 0 {
		binary.BigEndian.PutUint32(b[8:], e.DataDisplacement)
	}
	binary.BigEndian.PutUint32(b[20:], uint32(rcvAt))
	binary.BigEndian.PutUint64(b[24:], uint64(e.Sequence))
	copy(b[32:40], wire.EncodeTimestamp(e.Time))
	binary.BigEndian.PutUint64(b[64:], e.CommitCycleID)
	put(b[98:99], e.JournalCode)
	put(b[99:101], e.EntryType)
	put(b[101:111], e.JobName)
	put(b[111:121], e.UserName)
	put(b[121:127], e.JobNumber)
	put(b[127:137], e.ProgramName)
	put(b[157:167], e.File)
	put(b[167:177], e.Library)
	put(b[177:187], e.Member)
	b[218] = e.Flags
	b[219] = 0

	if rcvAt > 0 {
		put(b[rcvAt:rcvAt+10], e.Receiver.Name)
		put(b[rcvAt+10:rcvAt+20], e.Receiver.Library)
		put(b[rcvAt+20:rcvAt+30], "*SYSBAS")
		binary.BigEndian.PutUint32(b[rcvAt+30:], 1)
	}

	if nullAt > 0 {
		binary.BigEndian.PutUint32(b[nullAt:], uint32(len(e.Nulls)))
		for i, null := range e.Nulls {
			b[nullAt+4+i] = 0xF0
			if null {
				b[nullAt+4+i] = 0xF1
			}
		}
	}

	if esdAt > 0 {
		put(b[esdAt:esdAt+5], fmt.Sprintf("%05d", len(e.Data)))
		copy(b[esdAt+16:], e.Data)
	}

	return b
}

// Response returns a retrieval buffer holding entries. A non-zero
// continuation marks the buffer as incomplete. A continuation without
// entries models a buffer too small for a single entry.
func Response(continuation journal.Position, entries ...Entry) []byte {
	b := make([]byte, wire.FirstHeaderSize)
	for i := 12; i < 53; i++ {
		b[i] = ccsid.Blank
	}

	put(b[12:13], "0")
	if !continuation.Receiver.IsZero() || continuation.Offset != 0 {
		put(b[12:13], "1")
		put(b[13:23], continuation.Receiver.Name)
		put(b[23:33], continuation.Receiver.Library)
		put(b[33:53], continuation.Offset.String())
	}

	if len(entries) > 0 {
		binary.BigEndian.PutUint32(b[4:], wire.FirstHeaderSize)
	}
	binary.BigEndian.PutUint32(b[8:], uint32(len(entries)))

	for i, e := range entries {
		eb := EncodeEntry(e)
		if i < len(entries)-1 {
			binary.BigEndian.PutUint32(eb[0:], uint32(len(eb)))
		}
		b = append(b, eb...)
	}

	binary.BigEndian.PutUint32(b[0:], uint32(len(b)))
	return b
}

// Padded returns buf followed by n unused bytes, as returned in a receiver
// variable larger than the data.
func Padded(buf []byte, n int) []byte {
	return append(buf, make([]byte, n)...)
}

// JournalInfo returns journal information listing receivers.
func JournalInfo(attached journal.Receiver, receivers []journal.ReceiverInfo) []byte {
	size := wire.JournalInfoHeaderSize + len(receivers)*wire.DirectoryEntrySize
	b := make([]byte, size)
	binary.BigEndian.PutUint32(b[0:], uint32(size))
	binary.BigEndian.PutUint32(b[4:], uint32(size))
	put(b[8:18], attached.Name)
	put(b[18:28], attached.Library)
	binary.BigEndian.PutUint32(b[28:], uint32(len(receivers)))
	binary.BigEndian.PutUint32(b[32:], wire.JournalInfoHeaderSize)
	binary.BigEndian.PutUint32(b[36:], wire.DirectoryEntrySize)

	for i, r := range receivers {
		at := wire.JournalInfoHeaderSize + i*wire.DirectoryEntrySize
		put(b[at:at+10], r.Receiver.Name)
		put(b[at+10:at+20], r.Receiver.Library)
		put(b[at+20:at+25], fmt.Sprintf("%05d", i+1))
		put(b[at+25:at+38], wire.FormatDateTime(r.AttachTime))
		put(b[at+38:at+39], statusCode(r.Status))
		binary.BigEndian.PutUint32(b[at+40:], uint32(r.ChainID))
	}
	return b
}

// ReceiverDetails returns receiver information for d.
func ReceiverDetails(d journal.DetailedReceiver) []byte {
	b := make([]byte, wire.ReceiverDetailsSize)
	binary.BigEndian.PutUint32(b[0:], wire.ReceiverDetailsSize)
	binary.BigEndian.PutUint32(b[4:], wire.ReceiverDetailsSize)
	put(b[8:18], d.Info.Receiver.Name)
	put(b[18:28], d.Info.Receiver.Library)
	put(b[28:38], "QSQJRN")
	put(b[38:48], d.Info.Receiver.Library)
	put(b[48:49], statusCode(d.Info.Status))
	put(b[49:62], wire.FormatDateTime(d.Info.AttachTime))
	put(b[62:75], "")
	put(b[75:85], d.Next.Name)
	put(b[85:95], d.Next.Library)
	put(b[95:115], d.Start.String())
	put(b[115:135], d.End.String())
	put(b[135:155], fmt.Sprint(d.NumberOfEntries))
	binary.BigEndian.PutUint32(b[156:], uint32(d.MaxEntryLength))
	return b
}

func statusCode(s journal.ReceiverStatus) string {
	switch s {
	case journal.StatusAttached:
		return "1"
	case journal.StatusOnlineSavedDetached:
		return "2"
	case journal.StatusFreed:
		return "4"
	case journal.StatusPartial:
		return "5"
	case journal.StatusEmpty:
		return "6"
	default:
		return "0"
	}
}
