// SPDX-License-Identifier: MIT

// Package session implements the journey state machine. The machine is the
// authoritative representation of journey progress; transitions are the only
// way to change state, and illegal trigger/state pairs are no-ops because
// location-derived triggers can legitimately arrive out of order.
package session

// State is the current journey phase. Exactly one value is current at any time.
type State string

const (
	StateIdle          State = "IDLE"
	StateNearCharger   State = "NEAR_CHARGER"
	StateAnchored      State = "ANCHORED"
	StateSessionActive State = "SESSION_ACTIVE"
	StateInTransit     State = "IN_TRANSIT"
	StateAtMerchant    State = "AT_MERCHANT"
	StateSessionEnded  State = "SESSION_ENDED"
)

// Trigger names an externally observed occurrence fed into the machine.
type Trigger string

const (
	TriggerEnteredIntentZone   Trigger = "entered_intent_zone"
	TriggerExitedIntentZone    Trigger = "exited_intent_zone"
	TriggerDwellComplete       Trigger = "dwell_complete"
	TriggerAnchorLost          Trigger = "anchor_lost"
	TriggerActivationAccepted  Trigger = "activation_accepted"
	TriggerActivationRejected  Trigger = "activation_rejected"
	TriggerDepartedCharger     Trigger = "departed_charger"
	TriggerEnteredMerchantZone Trigger = "entered_merchant_zone"
	TriggerVisitVerified       Trigger = "visit_verified"
	TriggerSessionEndRequested Trigger = "session_end_requested"
	TriggerGraceExpired        Trigger = "grace_expired"
	TriggerHardTimeout         Trigger = "hard_timeout"
	TriggerSessionRestored     Trigger = "session_restored"
)

// transitions is the full legal transition table. A (state, trigger) pair not
// listed here leaves the state unchanged.
var transitions = map[State]map[Trigger]State{
	StateIdle: {
		TriggerEnteredIntentZone: StateNearCharger,
	},
	StateNearCharger: {
		TriggerExitedIntentZone: StateIdle,
		TriggerDwellComplete:    StateAnchored,
	},
	StateAnchored: {
		TriggerAnchorLost:         StateNearCharger,
		TriggerActivationAccepted: StateSessionActive,
		TriggerActivationRejected: StateNearCharger,
	},
	StateSessionActive: {
		TriggerDepartedCharger:     StateInTransit,
		TriggerSessionEndRequested: StateSessionEnded,
		TriggerHardTimeout:         StateSessionEnded,
		TriggerSessionRestored:     StateSessionActive,
	},
	StateInTransit: {
		TriggerEnteredMerchantZone: StateAtMerchant,
		TriggerGraceExpired:        StateSessionEnded,
		TriggerHardTimeout:         StateSessionEnded,
		TriggerSessionRestored:     StateInTransit,
	},
	StateAtMerchant: {
		// visit_verified is a side-effecting self-transition; repeated
		// verification stays idempotent.
		TriggerVisitVerified:       StateAtMerchant,
		TriggerSessionEndRequested: StateSessionEnded,
		TriggerHardTimeout:         StateSessionEnded,
		TriggerSessionRestored:     StateAtMerchant,
	},
}

// IsActive reports whether st is one of the states whose lifetime is
// bracketed by an ActiveSessionInfo.
func (s State) IsActive() bool {
	switch s {
	case StateSessionActive, StateInTransit, StateAtMerchant:
		return true
	}
	return false
}

// Terminal reports whether the journey attempt is over.
func (s State) Terminal() bool {
	return s == StateSessionEnded
}
