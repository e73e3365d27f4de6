package transport

import (
	"testing"

	"github.com/gigdesk/msgd/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Open},
		{Connecting, Closed},
		{Open, Closed},
		{Closed, Connecting},
		{Open, Disconnected},
		{Closed, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Open); err == nil {
		t.Error("Transition(DISCONNECTED -> OPEN) should fail")
	}
}

// TestTeardownIsTerminal verifies that after an explicit teardown the
// machine stays put until a fresh Connecting transition is requested —
// Open is never reachable directly.
func TestTeardownIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Open)
	if err := m.Transition(Disconnected); err != nil {
		t.Fatalf("OPEN -> DISCONNECTED: %v", err)
	}
	if err := m.Transition(Open); err == nil {
		t.Error("Transition(DISCONNECTED -> OPEN) should fail")
	}
	if err := m.Transition(Closed); err == nil {
		t.Error("Transition(DISCONNECTED -> CLOSED) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "transport.state_changed" {
		t.Errorf("event kind = %q, want transport.state_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

// TestReconnectCycle verifies the lifecycle of a dropped connection:
// OPEN -> CLOSED -> CONNECTING -> OPEN.
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Open)

	steps := []State{Closed, Connecting, Open}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Open {
		t.Errorf("final state = %s, want OPEN", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Open:         {Connecting, Open},
		Closed:       {Connecting, Open, Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
