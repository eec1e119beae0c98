package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rmaia/chatsync/internal/bus"
)

// State is the connection state surfaced to the UI as "connected".
type State string

const (
	Booting      State = "BOOTING"
	Connecting   State = "CONNECTING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED" // some passive channels down, active alive
	Offline      State = "OFFLINE"  // retries exhausted; explicit reopen required
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Connecting, Offline},
	Connecting:   {Ready, Reconnecting, Offline},
	Ready:        {Reconnecting, Degraded, Offline},
	Reconnecting: {Ready, Connecting, Degraded, Offline},
	Degraded:     {Ready, Connecting, Reconnecting, Offline},
	Offline:      {Connecting},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Connected reports whether the session is fully usable.
func (m *Machine) Connected() bool {
	return m.Current() == Ready
}

// Transition attempts to move to a new state. A transition to the current
// state is a no-op; an invalid one returns an error and leaves the state
// unchanged.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Emit(bus.KindStatusChanged, Change{From: from, To: to})
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}
