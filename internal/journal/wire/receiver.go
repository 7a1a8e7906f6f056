package wire

import (
	"fmt"

	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// Programs that describe journals and receivers.
const (
	JournalInfoProgram  = "QJOURNAL"
	JournalInfoProc     = "QjoRetrieveJournalInformation"
	JournalInfoFormat   = "RJRN0100"
	ReceiverInfoProgram = "QJORRCVI"
	ReceiverInfoFormat  = "RRCV0100"
)

// Journal information layout.
const (
	JournalInfoHeaderSize = 40
	DirectoryEntrySize    = 48

	jrnBytesReturned    = 0
	jrnBytesAvailable   = 4
	jrnAttachedReceiver = 8
	jrnAttachedLibrary  = 18
	jrnDirectoryCount   = 28
	jrnDirectoryOffset  = 32
	jrnDirectoryEntry   = 36

	dirName       = 0
	dirLibrary    = 10
	dirNumber     = 20
	dirAttachTime = 25
	dirStatus     = 38
	dirChainID    = 40
)

// Receiver information layout.
const (
	ReceiverDetailsSize = 164

	rcvBytesReturned  = 0
	rcvBytesAvailable = 4
	rcvName           = 8
	rcvLibrary        = 18
	rcvJournal        = 28
	rcvJournalLibrary = 38
	rcvStatus         = 48
	rcvAttachTime     = 49
	rcvDetachTime     = 62
	rcvNextName       = 75
	rcvNextLibrary    = 85
	rcvFirstSequence  = 95
	rcvLastSequence   = 115
	rcvEntryCount     = 135
	rcvMaxEntryLength = 156
)

// JournalInfo describes a journal and its receiver directory.
type JournalInfo struct {
	// BytesAvailable is the size needed to return the whole directory.
	BytesAvailable int

	Attached  journal.Receiver
	Receivers []journal.ReceiverInfo
}

// Complete returns false if the buffer was too small for the directory.
func (j JournalInfo) Complete(bytesReturned int) bool {
	return j.BytesAvailable <= bytesReturned
}

// DecodeJournalInfo decodes journal information and its receiver directory.
func DecodeJournalInfo(buf []byte) (JournalInfo, error) {
	if err := need(buf, 0, JournalInfoHeaderSize, "journal information"); err != nil {
		return JournalInfo{}, err
	}

	returned := u32(buf, jrnBytesReturned)
	if returned < JournalInfoHeaderSize || returned > len(buf) {
		return JournalInfo{}, fmt.Errorf("%w: journal information reports %d bytes returned", ErrMalformed, returned)
	}
	buf = buf[:returned]

	info := JournalInfo{
		BytesAvailable: u32(buf, jrnBytesAvailable),
		Attached: journal.NewReceiver(
			text(buf, jrnAttachedReceiver, 10),
			text(buf, jrnAttachedLibrary, 10),
		),
	}

	count := u32(buf, jrnDirectoryCount)
	off := u32(buf, jrnDirectoryOffset)
	size := u32(buf, jrnDirectoryEntry)
	if count > 0 && size < DirectoryEntrySize {
		return JournalInfo{}, fmt.Errorf("%w: directory entry length %d", ErrMalformed, size)
	}

	for i := range count {
		at := off + i*size
		if err := need(buf, at, DirectoryEntrySize, "receiver directory entry"); err != nil {
			// The directory was truncated; return what fits.
			break
		}

		attached, err := ParseDateTime(text(buf, at+dirAttachTime, 13))
		if err != nil {
			return JournalInfo{}, fmt.Errorf("receiver directory entry %d: %w", i, err)
		}

		info.Receivers = append(info.Receivers, journal.ReceiverInfo{
			Receiver:   journal.NewReceiver(text(buf, at+dirName, 10), text(buf, at+dirLibrary, 10)),
			AttachTime: attached,
			Status:     journal.ParseReceiverStatus(text(buf, at+dirStatus, 1)),
			ChainID:    u32(buf, at+dirChainID),
		})
	}

	return info, nil
}

// DecodeReceiverDetails decodes receiver information. The directory entry
// supplies the chain ID, which the receiver information does not carry.
func DecodeReceiverDetails(buf []byte, dir journal.ReceiverInfo) (journal.DetailedReceiver, error) {
	if err := need(buf, 0, ReceiverDetailsSize, "receiver information"); err != nil {
		return journal.DetailedReceiver{}, err
	}

	attached, err := ParseDateTime(text(buf, rcvAttachTime, 13))
	if err != nil {
		return journal.DetailedReceiver{}, fmt.Errorf("receiver attach time: %w", err)
	}

	first, err := journal.ParseOffset(text(buf, rcvFirstSequence, 20))
	if err != nil {
		return journal.DetailedReceiver{}, fmt.Errorf("%w: first sequence: %w", ErrMalformed, err)
	}
	last, err := journal.ParseOffset(text(buf, rcvLastSequence, 20))
	if err != nil {
		return journal.DetailedReceiver{}, fmt.Errorf("%w: last sequence: %w", ErrMalformed, err)
	}
	count, err := journal.ParseOffset(text(buf, rcvEntryCount, 20))
	if err != nil {
		return journal.DetailedReceiver{}, fmt.Errorf("%w: number of entries: %w", ErrMalformed, err)
	}

	d := journal.DetailedReceiver{
		Info: journal.ReceiverInfo{
			Receiver:   journal.NewReceiver(text(buf, rcvName, 10), text(buf, rcvLibrary, 10)),
			AttachTime: attached,
			Status:     journal.ParseReceiverStatus(text(buf, rcvStatus, 1)),
			ChainID:    dir.ChainID,
		},
		Start:           first,
		End:             last,
		Next:            journal.NewReceiver(text(buf, rcvNextName, 10), text(buf, rcvNextLibrary, 10)),
		MaxEntryLength:  u32(buf, rcvMaxEntryLength),
		NumberOfEntries: uint64(count),
	}
	if d.Info.AttachTime.IsZero() {
		d.Info.AttachTime = dir.AttachTime
	}
	return d, nil
}
