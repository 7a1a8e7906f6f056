package retrieve

import "fmt"

// State is the state of a Retriever.
type State int

const (
	// StateIdle indicates no retrieval has been made, or the last one failed.
	StateIdle State = iota
	// StateFetching indicates a retrieval call is in flight.
	StateFetching
	// StateHeaderParsed indicates the response header was decoded.
	StateHeaderParsed
	// StateIterating indicates entries are being read from the buffer.
	StateIterating
	// StateExhausted indicates every entry of the range was read.
	StateExhausted
	// StateContinuation indicates the buffer filled before the range was
	// exhausted and the position points at the continuation.
	StateContinuation
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateHeaderParsed:
		return "header_parsed"
	case StateIterating:
		return "iterating"
	case StateExhausted:
		return "exhausted"
	case StateContinuation:
		return "continuation"
	default:
		return "unknown"
	}
}

// validTransitions defines allowed state transitions. A new retrieval may
// start from any state that is not mid-call, including abandoning an
// iteration.
var validTransitions = map[State][]State{
	StateIdle:         {StateFetching},
	StateFetching:     {StateHeaderParsed, StateIdle},
	StateHeaderParsed: {StateIterating, StateExhausted, StateContinuation, StateIdle},
	StateIterating:    {StateExhausted, StateContinuation, StateIdle, StateFetching},
	StateExhausted:    {StateFetching},
	StateContinuation: {StateFetching},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (r *Retriever) transition(to State) error {
	if !canTransition(r.state, to) {
		return fmt.Errorf("invalid retrieval state transition from %s to %s", r.state, to)
	}
	r.logger.Debug("retrieval state change", "from", r.state.String(), "to", to.String())
	r.state = to
	return nil
}
