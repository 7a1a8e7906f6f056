// Package hostcall defines the program call primitive used to talk to the
// IBM i host, and the host diagnostic errors it returns.
package hostcall

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Host diagnostic message identifiers the journal reader reacts to.
const (
	// MsgNoEntries means no journal entries matched the selection.
	MsgNoEntries = "CPF7062"
	// MsgReceiverRangeInvalid means a receiver of the requested range does
	// not exist or is not part of the chain.
	MsgReceiverRangeInvalid = "CPF7053"
	// MsgSequenceInvalid means the requested sequence numbers are not in the
	// receiver range.
	MsgSequenceInvalid = "CPF7054"
	// MsgReceiverNotFound means a receiver is no longer available.
	MsgReceiverNotFound = "CPF705C"
	// MsgObjectNotFound means a filtered object does not exist.
	MsgObjectNotFound = "CPF9801"
	// MsgLibraryNotFound means a filtered library does not exist.
	MsgLibraryNotFound = "CPF9810"
	// MsgFileNotFound means a filtered file does not exist.
	MsgFileNotFound = "CPF9812"
	// MsgNotJournaled means a filtered file is not journaled.
	MsgNotJournaled = "CPF7002"
)

var (
	// ErrTransport is returned when the call did not reach the host or the
	// host did not answer.
	ErrTransport = errors.New("hostcall: transport failure")

	// ErrOutputMismatch is returned when the host returns a different number
	// of output buffers than requested.
	ErrOutputMismatch = errors.New("hostcall: output parameter mismatch")
)

// Param is one parameter of a program call.
type Param struct {
	// Name identifies the parameter in diagnostics.
	Name string

	// Input is the encoded input value. It is nil for output-only
	// parameters.
	Input []byte

	// OutputLength is the size of the output buffer the host fills. It is
	// zero for input-only parameters.
	OutputLength int
}

// In returns an input-only parameter.
func In(name string, value []byte) Param {
	return Param{Name: name, Input: value}
}

// Out returns an output-only parameter of n bytes.
func Out(name string, n int) Param {
	return Param{Name: name, OutputLength: n}
}

// ProgramCall names a host program or service program procedure and its
// ordered parameters.
type ProgramCall struct {
	Library   string
	Program   string
	Procedure string
	Params    []Param
}

// String returns the qualified program name.
func (c ProgramCall) String() string {
	s := c.Library + "/" + c.Program
	if c.Procedure != "" {
		s += "(" + c.Procedure + ")"
	}
	return s
}

// Caller issues program calls. Outputs holds one buffer per parameter in
// call order, nil for input-only parameters.
type Caller interface {
	Call(ctx context.Context, call ProgramCall) (outputs [][]byte, err error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, call ProgramCall) ([][]byte, error)

// Call calls f.
func (f CallerFunc) Call(ctx context.Context, call ProgramCall) ([][]byte, error) {
	return f(ctx, call)
}

// HostError is a diagnostic message returned by the host instead of data.
type HostError struct {
	Program   string
	MessageID string
	Text      string
}

func (e *HostError) Error() string {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return fmt.Sprintf("%s: host message %s", e.Program, e.MessageID)
	}
	return fmt.Sprintf("%s: host message %s: %s", e.Program, e.MessageID, text)
}

// MessageID returns the host message identifier carried by err.
func MessageID(err error) (string, bool) {
	var herr *HostError
	if errors.As(err, &herr) {
		return herr.MessageID, true
	}
	return "", false
}

// IsMessage returns true if err carries one of the given host messages.
func IsMessage(err error, ids ...string) bool {
	id, ok := MessageID(err)
	if !ok {
		return false
	}
	for _, want := range ids {
		if id == want {
			return true
		}
	}
	return false
}

// IsNoEntries returns true if err means no entries matched the selection.
func IsNoEntries(err error) bool {
	return IsMessage(err, MsgNoEntries)
}
