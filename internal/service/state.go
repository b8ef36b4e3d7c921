package service

import (
	"sync"
	"time"

	"github.com/jupyterlab-gpuman/gpuman/internal/errors"
)

// State is the lifecycle state of the service.
type State string

// Service lifecycle states.
const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
	StateStopping State = "stopping"
)

// StateMachine tracks the lifecycle state. Queries drive transitions
// between ready and degraded.
type StateMachine struct {
	mu          sync.RWMutex
	state       State
	stateReason string
	changedAt   time.Time
	clock       errors.Clock
}

// NewStateMachine creates a StateMachine starting in StateStarting.
func NewStateMachine(clock errors.Clock) *StateMachine {
	return &StateMachine{
		state:     StateStarting,
		clock:     clock,
		changedAt: clock.Now(),
	}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// StateReason returns the human-readable reason for the current state.
func (sm *StateMachine) StateReason() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stateReason
}

// InStateFor returns how long the current state has held.
func (sm *StateMachine) InStateFor() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.clock.Now().Sub(sm.changedAt)
}

// IsReady reports whether queries are expected to succeed. Implements
// server.ReadinessChecker.
func (sm *StateMachine) IsReady() bool {
	return sm.State() == StateReady
}

// TransitionTo sets the state with a reason.
func (sm *StateMachine) TransitionTo(state State, reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.set(state, reason)
}

func (sm *StateMachine) set(state State, reason string) {
	if sm.state != state {
		sm.changedAt = sm.clock.Now()
	}
	sm.state = state
	sm.stateReason = reason
}

// HandleQueryResult moves between ready and degraded based on the outcome
// of a query. Only GPU failures degrade the service; session and process
// failures are per-request. Starting and stopping are left alone.
func (sm *StateMachine) HandleQueryResult(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state == StateStarting || sm.state == StateStopping {
		return
	}
	if err == nil {
		if sm.state == StateDegraded {
			sm.set(StateReady, "query succeeded")
		}
		return
	}
	se := errors.As(err, "service")
	if se.Code == errors.ErrGPUUnavailable {
		sm.set(StateDegraded, se.Message)
	}
}
