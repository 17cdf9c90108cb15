// ABOUTME: Role-parameterised synchronization state machine
// ABOUTME: Pure transition table plus an entry-handler dispatcher
package statemachine

import (
	"fmt"
	"log"
	"sync"
)

// Role is the part a node plays in the mesh
type Role int

const (
	RoleNone Role = iota
	RoleAuthority
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleAuthority:
		return "authority"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

// ParseRole converts a config string into a Role
func ParseRole(s string) (Role, error) {
	switch s {
	case "authority":
		return RoleAuthority, nil
	case "client":
		return RoleClient, nil
	case "", "none":
		return RoleNone, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// State is a synchronization state
type State int

const (
	StateIdle State = iota
	StateWaitForSync
	StateSyncing
	StateUpdating
	StateAdvertising
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitForSync:
		return "wait-for-sync"
	case StateSyncing:
		return "syncing"
	case StateUpdating:
		return "updating"
	case StateAdvertising:
		return "advertising"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives transitions
type Event int

const (
	EventNone Event = iota
	EventInit
	EventNewSyncReceived
	EventSyncWindowExpired
	EventUpdateSucceeded
	EventUpdateFailed
	EventAdvertisingFinished
	EventNewNetworkSyncRequested
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventInit:
		return "init"
	case EventNewSyncReceived:
		return "new-sync-received"
	case EventSyncWindowExpired:
		return "sync-window-expired"
	case EventUpdateSucceeded:
		return "update-succeeded"
	case EventUpdateFailed:
		return "update-failed"
	case EventAdvertisingFinished:
		return "advertising-finished"
	case EventNewNetworkSyncRequested:
		return "new-network-sync-requested"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Transition returns the next state. Pairs missing from the table leave
// the state unchanged.
func Transition(role Role, state State, event Event) State {
	switch state {
	case StateIdle:
		if event == EventInit {
			switch role {
			case RoleAuthority:
				return StateStopped
			case RoleClient:
				return StateWaitForSync
			}
		}
	case StateWaitForSync:
		if event == EventNewSyncReceived {
			return StateSyncing
		}
	case StateSyncing:
		if event == EventSyncWindowExpired {
			return StateUpdating
		}
	case StateUpdating:
		switch event {
		case EventUpdateSucceeded:
			return StateAdvertising
		case EventUpdateFailed:
			return StateWaitForSync
		}
	case StateAdvertising:
		if event == EventAdvertisingFinished {
			switch role {
			case RoleAuthority:
				return StateStopped
			case RoleClient:
				return StateWaitForSync
			}
		}
	case StateStopped:
		if event == EventNewNetworkSyncRequested {
			return StateAdvertising
		}
	}
	return state
}

// Handler is a state entry action. It returns a follow-up event, or
// EventNone when the machine should wait for an external one.
type Handler func() Event

// Machine tracks the current state and runs entry actions
type Machine struct {
	mu       sync.Mutex
	role     Role
	state    State
	handlers map[State]Handler

	// OnTransition, if set, observes every state change
	OnTransition func(from, to State, event Event)
}

// New creates a machine in StateIdle with no role
func New(handlers map[State]Handler) *Machine {
	if handlers == nil {
		handlers = make(map[State]Handler)
	}
	return &Machine{
		state:    StateIdle,
		handlers: handlers,
	}
}

// SetRole assigns the role
func (m *Machine) SetRole(role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.role = role
}

// Role returns the current role
func (m *Machine) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run applies event and every follow-up event the entry handlers return.
// It must only be called from one goroutine.
func (m *Machine) Run(event Event) State {
	for event != EventNone {
		m.mu.Lock()
		from := m.state
		to := Transition(m.role, from, event)
		m.state = to
		handler := m.handlers[to]
		m.mu.Unlock()

		if to == from {
			log.Printf("Ignoring event %s in state %s", event, from)
			return to
		}

		if m.OnTransition != nil {
			m.OnTransition(from, to, event)
		}

		event = EventNone
		if handler != nil {
			event = handler()
		}
	}
	return m.State()
}
