// SPDX-License-Identifier: MIT

package session

import (
	"errors"
	"sync"

	"github.com/chargelink/sessiond/internal/log"
	"github.com/chargelink/sessiond/internal/metrics"
)

var (
	// ErrActivationPending rejects a second activation attempt while one is
	// already in flight.
	ErrActivationPending = errors.New("session: activation already in flight")

	// ErrNotAnchored rejects activation from any state other than ANCHORED.
	ErrNotAnchored = errors.New("session: activation requires ANCHORED state")
)

// Transition describes the outcome of firing a trigger.
type Transition struct {
	From    State
	To      State
	Trigger Trigger
	Changed bool // false for self-transitions and no-ops alike; see Applied
	Applied bool // true when the trigger was legal for the state
}

// Machine is the journey state machine. All mutation goes through Fire,
// Activate and Restore, which serialize on an internal mutex; the caller is
// still expected to feed location-derived triggers from a single logical
// writer.
type Machine struct {
	mu     sync.Mutex
	state  State
	active *ActiveSessionInfo

	activationPending bool
}

// NewMachine starts in IDLE with no active session.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Active returns a copy of the active session info, if any.
func (m *Machine) Active() (ActiveSessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ActiveSessionInfo{}, false
	}
	return *m.active, true
}

// Fire applies a trigger. Illegal trigger/state combinations are no-ops, not
// errors. Entering SESSION_ENDED destroys the active session info; the caller
// owns the accompanying detector reset.
func (m *Machine) Fire(trigger Trigger) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	to, ok := transitions[from][trigger]
	if !ok {
		metrics.RecordIgnoredTrigger(string(trigger), string(from))
		lg := log.WithComponent("session")
		lg.Debug().
			Str("event", "session.trigger_ignored").
			Str("trigger", string(trigger)).
			Str("state", string(from)).
			Msg("trigger is a no-op for current state")
		return Transition{From: from, To: from, Trigger: trigger}
	}

	// Activation must go through Activate so the session info invariant holds.
	if trigger == TriggerActivationAccepted {
		metrics.RecordIgnoredTrigger(string(trigger), string(from))
		return Transition{From: from, To: from, Trigger: trigger}
	}

	m.state = to
	if to == StateSessionEnded {
		m.active = nil
	}

	changed := to != from
	if changed {
		metrics.RecordTransition(string(from), string(to))
		lg := log.WithComponent("session")
		lg.Info().
			Str("event", "session.transition").
			Str("trigger", string(trigger)).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("state transition")
	}
	return Transition{From: from, To: to, Trigger: trigger, Changed: changed, Applied: true}
}

// BeginActivation reserves the single activation slot. It fails unless the
// machine is ANCHORED and no other activation is pending. Every successful
// call must be paired with CompleteActivation or AbortActivation.
func (m *Machine) BeginActivation() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAnchored {
		return ErrNotAnchored
	}
	if m.activationPending {
		return ErrActivationPending
	}
	m.activationPending = true
	return nil
}

// CompleteActivation installs the session info and moves ANCHORED to
// SESSION_ACTIVE. Only valid after a successful BeginActivation.
func (m *Machine) CompleteActivation(info ActiveSessionInfo) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.activationPending = false
	if m.state != StateAnchored {
		// Anchor was lost (or the session force-ended) while the backend call
		// was in flight; the activation result is discarded.
		return Transition{From: m.state, To: m.state, Trigger: TriggerActivationAccepted}
	}

	m.state = StateSessionActive
	m.active = &info
	metrics.RecordTransition(string(StateAnchored), string(StateSessionActive))
	lg := log.WithComponent("session")
	lg.Info().
		Str("event", "session.activated").
		Str("session_id", info.SessionID).
		Str("charger_id", info.ChargerID).
		Msg("session activated")
	return Transition{
		From: StateAnchored, To: StateSessionActive,
		Trigger: TriggerActivationAccepted, Changed: true, Applied: true,
	}
}

// AbortActivation releases the activation slot and fires activation_rejected.
func (m *Machine) AbortActivation() Transition {
	m.mu.Lock()
	m.activationPending = false
	m.mu.Unlock()
	return m.Fire(TriggerActivationRejected)
}

// Restore re-enters a persisted active state after process relaunch. It is a
// no-op unless the target state is an active one.
func (m *Machine) Restore(state State, info ActiveSessionInfo) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !state.IsActive() {
		return Transition{From: from, To: from, Trigger: TriggerSessionRestored}
	}

	m.state = state
	m.active = &info
	metrics.RecordTransition(string(from), string(state))
	lg := log.WithComponent("session")
	lg.Info().
		Str("event", "session.restored").
		Str("session_id", info.SessionID).
		Str("state", string(state)).
		Msg("session restored from persisted state")
	return Transition{From: from, To: state, Trigger: TriggerSessionRestored, Changed: from != state, Applied: true}
}

// Reset returns the machine to IDLE for a fresh journey attempt. Active
// session info, if any, is destroyed.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.active = nil
	m.activationPending = false
}
