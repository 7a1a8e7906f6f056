package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// Service program and procedure that retrieve journal entries.
const (
	RetrieveLibrary   = "QSYS"
	RetrieveProgram   = "QJOURNAL"
	RetrieveProcedure = "QjoRetrieveJournalEntries"

	// RetrieveFormat is the output format of the retrieval.
	RetrieveFormat = "RJNE0200"
)

// MaxFileFilters is the largest file list the host accepts in one selection.
const MaxFileFilters = 300

// Selection keys understood by the retrieval.
const (
	KeyReceiverRange = 1
	KeyFromEntry     = 2
	KeyToEntry       = 4
	KeyNumberEntries = 6
	KeyJournalCodes  = 7
	KeyEntryTypes    = 8
	KeyNullIndLength = 15
	KeyFiles         = 16
)

// ErrInvalidRequest is returned when a request cannot be encoded.
var ErrInvalidRequest = errors.New("wire: invalid retrieval request")

// RetrieveRequest selects the entries of one retrieval.
type RetrieveRequest struct {
	// Journal is the qualified journal name.
	Journal journal.ObjectName

	// FromBeginning retrieves from the first entry of the current chain.
	// StartReceiver, EndReceiver and FromSequence are ignored when set.
	FromBeginning bool

	StartReceiver journal.Receiver
	EndReceiver   journal.Receiver

	// FromSequence is the first entry to return.
	FromSequence journal.Offset

	// ToSequence is the last entry to return. Zero means the last entry of
	// the receiver range.
	ToSequence journal.Offset

	// MaxEntries limits the number of entries returned. Zero means no limit.
	MaxEntries int

	// JournalCodes restricts the journal codes returned.
	JournalCodes []string

	// EntryTypes restricts the entry types returned.
	EntryTypes []string

	// Files restricts the journaled files returned. Lists longer than
	// MaxFileFilters are not sent; see FileFilterDisabled.
	Files []journal.ObjectName

	// BufferSize is the size of the receiver variable.
	BufferSize int
}

// FileFilterDisabled returns true if the file list is too long for the host
// and must be applied by the caller.
func (r RetrieveRequest) FileFilterDisabled() bool {
	return len(r.Files) > MaxFileFilters
}

// QualifiedName encodes a 20 byte qualified object name.
func QualifiedName(o journal.ObjectName) ([]byte, error) {
	b := make([]byte, 20)
	if err := ccsid.PutText(b[:10], o.Name); err != nil {
		return nil, err
	}
	if err := ccsid.PutText(b[10:], o.Library); err != nil {
		return nil, err
	}
	return b, nil
}

// FormatName encodes the 8 byte output format name.
func FormatName() []byte {
	b, _ := ccsid.Pad(RetrieveFormat, 8)
	return b
}

// EncodeSelection encodes the keyed selection records of the request.
func (r RetrieveRequest) EncodeSelection() ([]byte, error) {
	if r.BufferSize <= 0 {
		return nil, fmt.Errorf("%w: buffer size %d", ErrInvalidRequest, r.BufferSize)
	}

	var s selection

	if r.FromBeginning {
		s.text(KeyReceiverRange, 40, "*CURCHAIN")
		s.text(KeyFromEntry, 20, "*FIRST")
	} else {
		if r.StartReceiver.IsZero() {
			return nil, fmt.Errorf("%w: no start receiver", ErrInvalidRequest)
		}
		end := r.EndReceiver
		if end.IsZero() {
			end = r.StartReceiver
		}
		s.text(KeyReceiverRange, 40,
			r.StartReceiver.Name, r.StartReceiver.Library, end.Name, end.Library)
		if r.FromSequence == 0 {
			s.text(KeyFromEntry, 20, "*FIRST")
		} else {
			s.text(KeyFromEntry, 20, r.FromSequence.String())
		}
	}

	if r.ToSequence != 0 {
		s.text(KeyToEntry, 20, r.ToSequence.String())
	}

	if r.MaxEntries > 0 {
		s.int32(KeyNumberEntries, r.MaxEntries)
	}

	if len(r.JournalCodes) > 0 {
		items := make([]string, 0, 2*len(r.JournalCodes))
		for _, c := range r.JournalCodes {
			items = append(items, c, "*ALLSLT")
		}
		s.list(KeyJournalCodes, len(r.JournalCodes), 10, items...)
	}

	if len(r.EntryTypes) > 0 {
		s.list(KeyEntryTypes, len(r.EntryTypes), 10, r.EntryTypes...)
	}

	s.text(KeyNullIndLength, 10, "*VARLEN")

	if len(r.Files) > 0 && !r.FileFilterDisabled() {
		items := make([]string, 0, 3*len(r.Files))
		for _, f := range r.Files {
			items = append(items, f.Name, f.Library, "*ALL")
		}
		s.list(KeyFiles, len(r.Files), 10, items...)
	}

	return s.bytes()
}

// selection builds keyed selection records: a 4 byte record count followed
// by records of {record length, key, data length, data}, each padded to a
// multiple of 4 bytes.
type selection struct {
	records [][]byte
	err     error
}

func (s *selection) add(key int, data []byte) {
	n := 12 + len(data)
	n += (4 - n%4) % 4
	rec := make([]byte, n)
	binary.BigEndian.PutUint32(rec[0:], uint32(n))
	binary.BigEndian.PutUint32(rec[4:], uint32(key))
	binary.BigEndian.PutUint32(rec[8:], uint32(len(data)))
	copy(rec[12:], data)
	s.records = append(s.records, rec)
}

// text adds a record made of blank padded text fields. With one value the
// field spans the whole width; with several values width is split evenly.
func (s *selection) text(key, width int, values ...string) {
	data := make([]byte, width)
	field := width / len(values)
	for i, v := range values {
		if err := ccsid.PutText(data[i*field:(i+1)*field], v); err != nil && s.err == nil {
			s.err = fmt.Errorf("%w: key %d: %w", ErrInvalidRequest, key, err)
		}
	}
	s.add(key, data)
}

func (s *selection) int32(key, v int) {
	s.add(key, PutInt32(v))
}

// list adds a record of a 4 byte count followed by fixed width text items.
func (s *selection) list(key, count, width int, items ...string) {
	data := make([]byte, 4+width*len(items))
	binary.BigEndian.PutUint32(data, uint32(count))
	for i, item := range items {
		off := 4 + i*width
		if err := ccsid.PutText(data[off:off+width], item); err != nil && s.err == nil {
			s.err = fmt.Errorf("%w: key %d: %w", ErrInvalidRequest, key, err)
		}
	}
	s.add(key, data)
}

func (s *selection) bytes() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := PutInt32(len(s.records))
	for _, rec := range s.records {
		out = append(out, rec...)
	}
	return out, nil
}

// DecodeSelection decodes keyed selection records into a map of key to data.
// It is the inverse of EncodeSelection and is used by gateways and tests.
func DecodeSelection(b []byte) (map[int][]byte, error) {
	if err := need(b, 0, 4, "selection count"); err != nil {
		return nil, err
	}
	count := u32(b, 0)
	out := make(map[int][]byte, count)
	off := 4
	for range count {
		if err := need(b, off, 12, "selection record"); err != nil {
			return nil, err
		}
		n, key, dl := u32(b, off), u32(b, off+4), u32(b, off+8)
		if n < 12+dl {
			return nil, fmt.Errorf("%w: selection record length %d", ErrMalformed, n)
		}
		if err := need(b, off, n, "selection record"); err != nil {
			return nil, err
		}
		out[key] = b[off+12 : off+12+dl]
		off += n
	}
	return out, nil
}
