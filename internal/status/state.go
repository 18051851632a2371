package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/craftlance/relay/internal/bus"
)

// State is the connection state of a transport session.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed state transitions. A session starts
// DISCONNECTED, moves to CONNECTING on dial and on every reconnect attempt,
// and returns to DISCONNECTED on teardown or retry exhaustion.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Connecting, Disconnected},
}

// Machine tracks and enforces session connection state. The last error seen
// on the way to DISCONNECTED is retained for the UI layer.
type Machine struct {
	mu      sync.RWMutex
	current State
	lastErr error
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// LastError returns the most recent error recorded by Fail, or nil.
func (m *Machine) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		cur := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", cur, to)
	}
	from := m.current
	m.current = to
	if to == Connected {
		m.lastErr = nil
	}
	b := m.bus
	m.mu.Unlock()

	if b != nil {
		b.Publish(bus.Event{
			Kind:      "session.state_changed",
			Timestamp: time.Now(),
			Payload:   StateChange{From: from, To: to},
		})
	}
	return nil
}

// Fail records err and forces the machine to Disconnected from any state.
func (m *Machine) Fail(err error) {
	m.mu.Lock()
	from := m.current
	m.current = Disconnected
	m.lastErr = err
	b := m.bus
	m.mu.Unlock()

	if b != nil && from != Disconnected {
		b.Publish(bus.Event{
			Kind:      "session.state_changed",
			Timestamp: time.Now(),
			Payload:   StateChange{From: from, To: Disconnected},
		})
	}
}

// StateChange is the payload for session.state_changed events.
type StateChange struct {
	From State
	To   State
}
