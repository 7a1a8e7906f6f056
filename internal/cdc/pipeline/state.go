package pipeline

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/metrics"
)

// State is the lifecycle state of a pipeline.
type State int

const (
	// StateStarting covers checkpoint restore and source start.
	StateStarting State = iota
	// StateRunning means events are read from the source.
	StateRunning
	// StatePaused means the source is not read because the buffer is full.
	StatePaused
	// StateStopping means the source is being stopped and the final
	// checkpoint saved.
	StateStopping
	// StateStopped is the state after a clean shutdown.
	StateStopped
	// StateFailed is the state after a fatal error.
	StateFailed
)

var stateNames = [...]string{
	StateStarting: "starting",
	StateRunning:  "running",
	StatePaused:   "paused",
	StateStopping: "stopping",
	StateStopped:  "stopped",
	StateFailed:   "failed",
}

// String returns the string representation of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// gaugeValue returns the value reported by the pipeline state gauge.
func (s State) gaugeValue() float64 {
	switch s {
	case StateStarting:
		return 1
	case StateRunning:
		return 2
	case StatePaused:
		return 3
	case StateFailed:
		return 4
	default:
		return 0
	}
}

var transitions = map[State][]State{
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StatePaused, StateStopping, StateFailed},
	StatePaused:   {StateRunning, StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting, StateStopped},
}

// StateChangeListener is called after each transition.
type StateChangeListener func(from, to State)

// StateMachine guards pipeline state transitions. It is safe for
// concurrent use.
type StateMachine struct {
	mu        sync.RWMutex
	state     State
	since     time.Time
	listeners []StateChangeListener
}

// NewStateMachine creates a new state machine in StateStarting.
func NewStateMachine(listeners ...StateChangeListener) *StateMachine {
	return &StateMachine{
		state:     StateStarting,
		since:     time.Now(),
		listeners: listeners,
	}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Since returns when the current state was entered.
func (sm *StateMachine) Since() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.since
}

// Transition moves to target. Listeners run outside the lock, in the
// order they were added.
func (sm *StateMachine) Transition(target State) error {
	sm.mu.Lock()
	from := sm.state
	if !slices.Contains(transitions[from], target) {
		sm.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, target)
	}
	sm.state = target
	sm.since = time.Now()
	listeners := slices.Clone(sm.listeners)
	sm.mu.Unlock()

	for _, l := range listeners {
		l(from, target)
	}
	return nil
}

// AddListener adds a state change listener.
func (sm *StateMachine) AddListener(listener StateChangeListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// In returns true if the current state is one of states.
func (sm *StateMachine) In(states ...State) bool {
	return slices.Contains(states, sm.State())
}

// IsRunning returns true if events are being read.
func (sm *StateMachine) IsRunning() bool {
	return sm.In(StateRunning)
}

// IsPaused returns true if the pipeline is paused.
func (sm *StateMachine) IsPaused() bool {
	return sm.In(StatePaused)
}

// IsTerminal returns true if the pipeline has stopped or failed.
func (sm *StateMachine) IsTerminal() bool {
	return sm.In(StateStopped, StateFailed)
}

// StateGauge returns a listener that reports the state of the named
// pipeline to the pipeline state gauge.
func StateGauge(name string) StateChangeListener {
	return func(_, to State) {
		metrics.CDCPipelineState.WithLabelValues(name).Set(to.gaugeValue())
	}
}
