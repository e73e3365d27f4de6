package transport

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gigdesk/msgd/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. Disconnected is the
// initial state and, once re-entered via explicit teardown, also terminal.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Open, Closed, Disconnected},
	Open:         {Closed, Disconnected},
	Closed:       {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "transport.state_changed",
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for state change events.
type StateChange struct {
	From State
	To   State
}
