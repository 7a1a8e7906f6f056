package journal

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the retrieval engine.
type ErrorKind int

const (
	// KindRetrievalFailure is any host failure without a more specific kind.
	KindRetrievalFailure ErrorKind = iota
	// KindInvalidPosition means the requested receiver or sequence number
	// does not exist, or the chain is broken at that point.
	KindInvalidPosition
	// KindInvalidJournalFilter means a filtered object does not exist or is
	// not journaled.
	KindInvalidJournalFilter
	// KindBufferTooSmall means the retrieval buffer could not hold a single
	// entry.
	KindBufferTooSmall
	// KindDecodeError means an entry could not be decoded.
	KindDecodeError
	// KindChainUnresolved means the start position could not be located in
	// the receiver chain.
	KindChainUnresolved
)

var (
	// ErrRetrievalFailure matches errors of kind KindRetrievalFailure.
	ErrRetrievalFailure = errors.New("journal: retrieval failed")

	// ErrInvalidPosition matches errors of kind KindInvalidPosition.
	ErrInvalidPosition = errors.New("journal: invalid position")

	// ErrInvalidJournalFilter matches errors of kind KindInvalidJournalFilter.
	ErrInvalidJournalFilter = errors.New("journal: invalid journal filter")

	// ErrBufferTooSmall matches errors of kind KindBufferTooSmall.
	ErrBufferTooSmall = errors.New("journal: buffer too small for one entry")

	// ErrDecode matches errors of kind KindDecodeError.
	ErrDecode = errors.New("journal: decode error")

	// ErrChainUnresolved matches errors of kind KindChainUnresolved.
	ErrChainUnresolved = errors.New("journal: receiver chain unresolved")
)

var kindErrors = map[ErrorKind]error{
	KindRetrievalFailure:     ErrRetrievalFailure,
	KindInvalidPosition:      ErrInvalidPosition,
	KindInvalidJournalFilter: ErrInvalidJournalFilter,
	KindBufferTooSmall:       ErrBufferTooSmall,
	KindDecodeError:          ErrDecode,
	KindChainUnresolved:      ErrChainUnresolved,
}

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindRetrievalFailure:
		return "retrieval_failure"
	case KindInvalidPosition:
		return "invalid_position"
	case KindInvalidJournalFilter:
		return "invalid_journal_filter"
	case KindBufferTooSmall:
		return "buffer_too_small"
	case KindDecodeError:
		return "decode_error"
	case KindChainUnresolved:
		return "chain_unresolved"
	default:
		return "unknown"
	}
}

// Error is a classified engine failure.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op is the operation that failed.
	Op string

	// Position is the position the operation was working from, if any.
	Position Position

	// MessageID is the host diagnostic message, if the host reported one.
	MessageID string

	// Recovered is true if the engine already recovered locally, for example
	// by skipping past an entry too large for the buffer.
	Recovered bool

	// Err is the underlying cause.
	Err error
}

// NewError returns a new Error of the given kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, kindErrors[e.Kind])
	if e.Position.Offset != 0 || !e.Position.Receiver.IsZero() {
		msg += fmt.Sprintf(" at %s", e.Position)
	}
	if e.MessageID != "" {
		msg += fmt.Sprintf(" (%s)", e.MessageID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind.
func (e *Error) Is(target error) bool {
	return kindErrors[e.Kind] == target
}

// IsRetryable returns true if retrying the same call may succeed. Host
// failures and chain listing races are retryable; missing positions and bad
// filters need a decision by the caller.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindRetrievalFailure, KindChainUnresolved:
		return true
	default:
		return false
	}
}

// KindOf returns the kind of err, or false if err is not an engine error.
func KindOf(err error) (ErrorKind, bool) {
	var jerr *Error
	if errors.As(err, &jerr) {
		return jerr.Kind, true
	}
	return 0, false
}

// IsReceiverLoss returns true if err means the recorded position can no
// longer be found, so the caller must either restart from the beginning or
// stop.
func IsReceiverLoss(err error) bool {
	return errors.Is(err, ErrInvalidPosition) || errors.Is(err, ErrChainUnresolved)
}
