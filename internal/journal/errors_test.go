package journal

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Is(t *testing.T) {
	cause := errors.New("CPF7053")
	err := fmt.Errorf("retrieve: %w", &Error{
		Kind:      KindInvalidPosition,
		Op:        "retrieve journal",
		MessageID: "CPF7053",
		Err:       cause,
	})

	if !errors.Is(err, ErrInvalidPosition) {
		t.Error("expected errors.Is(err, ErrInvalidPosition)")
	}
	if errors.Is(err, ErrRetrievalFailure) {
		t.Error("did not expect errors.Is(err, ErrRetrievalFailure)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to be reachable")
	}
	if !IsReceiverLoss(err) {
		t.Error("expected IsReceiverLoss() to be true")
	}

	kind, ok := KindOf(err)
	if !ok || kind != KindInvalidPosition {
		t.Errorf("KindOf() = %v, %v", kind, ok)
	}
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindRetrievalFailure, true},
		{KindChainUnresolved, true},
		{KindInvalidPosition, false},
		{KindInvalidJournalFilter, false},
		{KindBufferTooSmall, false},
		{KindDecodeError, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := NewError(tt.kind, "op", nil)
			if got := err.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{
		Kind:      KindInvalidPosition,
		Op:        "find range",
		Position:  Position{Offset: 42, Receiver: NewReceiver("RCV0001", "JRNLIB")},
		MessageID: "CPF7053",
	}

	want := "find range: journal: invalid position at JRNLIB/RCV0001@42 (CPF7053)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
