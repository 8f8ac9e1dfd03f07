package session

import (
	"errors"
	"fmt"
	"sync"
)

// State is a stage of one orchestrator run.
type State int

const (
	// StateIdle - Invitation received, nothing started.
	StateIdle State = iota
	// StateConnecting - Joining the room.
	StateConnecting
	// StateConfiguringBackend - Resolving preferences and dialing the model.
	StateConfiguringBackend
	// StateStarting - Binding the model to the room.
	StateStarting
	// StateLive - Conversation running, transcripts relayed.
	StateLive
	// StateTerminated - Everything released. Terminal.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConfiguringBackend:
		return "CONFIGURING_BACKEND"
	case StateStarting:
		return "STARTING"
	case StateLive:
		return "LIVE"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for StateTerminated.
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

var ErrInvalidTransition = errors.New("invalid session state transition")

// Lifecycle tracks the state of one run. Thread-safe.
//
//	IDLE → CONNECTING → CONFIGURING_BACKEND → STARTING → LIVE
//	  └──────────────── Terminate() ─────────────────────┴──→ TERMINATED
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle returns a lifecycle in StateIdle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Advance moves to the next state. Only the immediate successor of the
// current state is accepted.
func (l *Lifecycle) Advance(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() || to != l.state+1 || to.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
	}
	l.state = to
	return nil
}

// Terminate moves to StateTerminated from any state. It returns false if
// the lifecycle was already terminated.
func (l *Lifecycle) Terminate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateTerminated
	return true
}
