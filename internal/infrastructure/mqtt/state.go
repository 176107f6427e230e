package mqtt

import (
	"fmt"
	"sync"
)

// State is the bus connection state.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives a state transition.
type Event int

// Connection events.
const (
	EventConnectStart Event = iota
	EventConnectSuccess
	EventConnectFailure
	EventConnectionLost
	EventDisconnectRequest
	EventDisconnectDone
	EventMessageReceived
)

func (e Event) String() string {
	switch e {
	case EventConnectStart:
		return "connect_start"
	case EventConnectSuccess:
		return "connect_success"
	case EventConnectFailure:
		return "connect_failure"
	case EventConnectionLost:
		return "connection_lost"
	case EventDisconnectRequest:
		return "disconnect_request"
	case EventDisconnectDone:
		return "disconnect_done"
	case EventMessageReceived:
		return "message_received"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

type transitionKey struct {
	from  State
	event Event
}

// transitions is the complete table of legal moves. Anything absent is
// rejected with ErrInvalidTransition.
var transitions = map[transitionKey]State{
	{StateDisconnected, EventConnectStart}:      StateConnecting,
	{StateDisconnected, EventDisconnectRequest}: StateDisconnected,
	{StateConnecting, EventConnectSuccess}:      StateConnected,
	{StateConnecting, EventConnectFailure}:      StateDisconnected,
	{StateConnecting, EventDisconnectRequest}:   StateDraining,
	{StateConnected, EventConnectionLost}:       StateConnecting,
	{StateConnected, EventDisconnectRequest}:    StateDraining,
	{StateConnected, EventMessageReceived}:      StateConnected,
	{StateDraining, EventDisconnectDone}:        StateDisconnected,
}

// StateChangeFunc observes a transition that changed the state.
type StateChangeFunc func(from, to State, event Event)

// Machine is the connection state machine. It is safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange StateChangeFunc
}

// NewMachine returns a machine in StateDisconnected.
func NewMachine() *Machine {
	return &Machine{state: StateDisconnected}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetOnChange registers fn to be called after every transition that changes
// the state. Self-transitions are not reported.
func (m *Machine) SetOnChange(fn StateChangeFunc) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Fire applies event and returns the resulting state.
func (m *Machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	from := m.state
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, from)
	}
	m.state = to
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil && from != to {
		cb(from, to, event)
	}
	return to, nil
}

// FireIf applies event only when the machine is currently in state want.
// It reports whether the event was applied.
func (m *Machine) FireIf(want State, event Event) bool {
	m.mu.Lock()
	from := m.state
	if from != want {
		m.mu.Unlock()
		return false
	}
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.state = to
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil && from != to {
		cb(from, to, event)
	}
	return true
}
