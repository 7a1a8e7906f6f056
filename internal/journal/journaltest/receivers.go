// Package journaltest provides builders for receiver chains used by the
// journal engine tests.
package journaltest

import (
	"fmt"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/journal"
)

// Library is the library used for every receiver built by this package.
const Library = "JRNLIB"

// Epoch is the attach time of the first receiver built by Chain.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Span is the inclusive sequence number range of one receiver.
type Span struct {
	Start, End journal.Offset
}

// Receiver returns the receiver identity of the n-th receiver (1-based).
func Receiver(n int) journal.Receiver {
	return journal.NewReceiver(fmt.Sprintf("RCV%04d", n), Library)
}

// Chain returns detached receivers linked in order, with the last one
// attached. Receiver n covers spans[n-1] and is attached one hour after
// receiver n-1.
func Chain(spans ...Span) []journal.DetailedReceiver {
	out := make([]journal.DetailedReceiver, len(spans))
	for i, s := range spans {
		d := journal.DetailedReceiver{
			Info: journal.ReceiverInfo{
				Receiver:   Receiver(i + 1),
				AttachTime: Epoch.Add(time.Duration(i) * time.Hour),
				Status:     journal.StatusOnlineSavedDetached,
			},
			Start:           s.Start,
			End:             s.End,
			NumberOfEntries: uint64(s.End-s.Start) + 1,
			MaxEntryLength:  512,
		}
		if i+1 < len(spans) {
			d.Next = Receiver(i + 2)
		} else {
			d.Info.Status = journal.StatusAttached
		}
		out[i] = d
	}
	return out
}

// Split separates a chain into its detached receivers and the attached one.
func Split(receivers []journal.DetailedReceiver) ([]journal.DetailedReceiver, journal.DetailedReceiver) {
	n := len(receivers)
	return receivers[:n-1], receivers[n-1]
}
