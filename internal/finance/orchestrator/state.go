package orchestrator

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// State is a step of the sync state machine.
type State string

const (
	StateIdle                State = "idle"
	StateFetchingPage        State = "fetching_page"
	StateWaitingForRateLimit State = "waiting_for_rate_limit"
	StatePaused              State = "paused"
	StateComplete            State = "complete"
	StatePartial             State = "partial"
	StateCancelled           State = "cancelled"
	StateFailed              State = "failed"
)

// ErrInvalidTransition is returned for a transition the machine does not
// allow.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateIdle:                {StateFetchingPage, StatePaused, StateComplete, StatePartial, StateCancelled, StateFailed},
	StateFetchingPage:        {StateWaitingForRateLimit, StatePaused, StateComplete, StatePartial, StateCancelled, StateFailed},
	StateWaitingForRateLimit: {StateFetchingPage, StatePaused, StateComplete, StatePartial, StateCancelled, StateFailed},
	StatePaused:              {StateIdle, StateFetchingPage, StateComplete, StatePartial, StateCancelled, StateFailed},
	StateComplete:            {StateIdle},
	StatePartial:             {StateIdle},
	StateFailed:              {StateIdle},
	StateCancelled:           nil,
}

// Terminal reports whether s ends a pass or run.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StatePartial, StateCancelled, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether from may move to to. Staying in the same
// non-terminal state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return !from.Terminal()
	}
	return slices.Contains(transitions[from], to)
}

// Machine tracks the state of one pass or run. It is safe for concurrent
// use.
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

// NewMachine starts in idle. onChange, when set, runs after every accepted
// transition that changes the state.
func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{state: StateIdle, onChange: onChange}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	m.mu.Unlock()
	if from != to && m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
