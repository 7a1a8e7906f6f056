package wire

import (
	"fmt"

	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// FirstHeaderSize is the size of the header at the start of a retrieval
// buffer in format RJNE0200.
const FirstHeaderSize = 64

// First header layout.
const (
	hdrBytesReturned  = 0
	hdrFirstEntry     = 4
	hdrEntryCount     = 8
	hdrContinuation   = 12
	hdrContReceiver   = 13
	hdrContLibrary    = 23
	hdrContSequence   = 33
	hdrContSequenceSz = 20
)

// Status describes what a retrieval returned.
type Status int

const (
	// StatusNotCalled means no call was made because there was nothing to
	// retrieve.
	StatusNotCalled Status = iota
	// StatusMoreData means the buffer filled before the range was exhausted.
	// NextPosition holds the continuation.
	StatusMoreData
	// StatusNoMoreData means every entry in the range was returned.
	StatusNoMoreData
	// StatusNoData means no entry in the range matched the selection.
	StatusNoData
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusNotCalled:
		return "not_called"
	case StatusMoreData:
		return "more_data"
	case StatusNoMoreData:
		return "no_more_data"
	case StatusNoData:
		return "no_data"
	default:
		return "unknown"
	}
}

// FirstHeader is the header of a retrieval buffer.
type FirstHeader struct {
	// Size is the number of bytes the host returned, including the header.
	Size int

	// Offset is the buffer offset of the first entry, or 0 if no entry fit.
	Offset int

	// Entries is the number of entries in the buffer.
	Entries int

	Status Status

	// NextPosition is the next entry to fetch when Status is StatusMoreData.
	NextPosition journal.ProcessedPosition
}

// NotCalledHeader returns the header used when the retrieval was skipped.
func NotCalledHeader() FirstHeader {
	return FirstHeader{Status: StatusNotCalled}
}

// NoDataHeader returns the header used when no entries matched.
func NoDataHeader() FirstHeader {
	return FirstHeader{Status: StatusNoData}
}

// HasEntries returns true if the buffer holds at least one entry.
func (h FirstHeader) HasEntries() bool {
	return h.Offset > 0 && h.Entries > 0
}

// BufferTooSmall returns true if the host had more data but could not fit a
// single entry into the buffer.
func (h FirstHeader) BufferTooSmall() bool {
	return h.Status == StatusMoreData && h.Offset == 0
}

// DecodeFirstHeader decodes the header of a retrieval buffer. It returns the
// header and the buffer truncated to the bytes the host returned.
func DecodeFirstHeader(buf []byte) (FirstHeader, []byte, error) {
	if err := need(buf, 0, FirstHeaderSize, "first header"); err != nil {
		return FirstHeader{}, nil, err
	}

	h := FirstHeader{
		Size:    u32(buf, hdrBytesReturned),
		Offset:  u32(buf, hdrFirstEntry),
		Entries: u32(buf, hdrEntryCount),
	}

	if h.Size < FirstHeaderSize || h.Size > len(buf) {
		return FirstHeader{}, nil, fmt.Errorf("%w: header reports %d bytes returned in a %d byte buffer", ErrMalformed, h.Size, len(buf))
	}
	if h.Offset != 0 && (h.Offset < FirstHeaderSize || h.Offset >= h.Size) {
		return FirstHeader{}, nil, fmt.Errorf("%w: first entry offset %d outside [%d, %d)", ErrMalformed, h.Offset, FirstHeaderSize, h.Size)
	}

	h.Status = StatusNoMoreData
	if ccsid.Text(buf[hdrContinuation:hdrContinuation+1]) == "1" {
		h.Status = StatusMoreData

		seq, err := journal.ParseOffset(text(buf, hdrContSequence, hdrContSequenceSz))
		if err != nil {
			return FirstHeader{}, nil, fmt.Errorf("%w: continuation: %w", ErrMalformed, err)
		}
		h.NextPosition = journal.ProcessedPosition{
			Offset: seq,
			Receiver: journal.NewReceiver(
				text(buf, hdrContReceiver, 10),
				text(buf, hdrContLibrary, 10),
			),
		}
	}

	return h, buf[:h.Size], nil
}
