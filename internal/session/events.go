// SPDX-License-Identifier: MIT

package session

import "time"

// EventName is a member of the closed set of business events the engine can
// emit to the backend.
type EventName string

const (
	// Pre-session events (no session identifier yet).
	EventChargerTargeted     EventName = "charger_targeted"
	EventChargerZoneEntered  EventName = "charger_zone_entered"
	EventChargerZoneExited   EventName = "charger_zone_exited"
	EventAnchorDwellComplete EventName = "anchor_dwell_completed"
	EventAnchorLost          EventName = "anchor_lost"
	EventActivationRejected  EventName = "activation_rejected"

	// Session events (require an active session identifier).
	EventSessionActivated    EventName = "session_activated"
	EventDepartedCharger     EventName = "departed_charger"
	EventMerchantZoneEntered EventName = "merchant_zone_entered"
	EventVisitVerified       EventName = "visit_verified"
	EventGracePeriodExpired  EventName = "grace_period_expired"
	EventSessionTimeout      EventName = "session_timeout"
	EventSessionEnded        EventName = "session_ended"
	EventSessionRestored     EventName = "session_restored"
)

var sessionScoped = map[EventName]bool{
	EventChargerTargeted:     false,
	EventChargerZoneEntered:  false,
	EventChargerZoneExited:   false,
	EventAnchorDwellComplete: false,
	EventAnchorLost:          false,
	EventActivationRejected:  false,
	EventSessionActivated:    true,
	EventDepartedCharger:     true,
	EventMerchantZoneEntered: true,
	EventVisitVerified:       true,
	EventGracePeriodExpired:  true,
	EventSessionTimeout:      true,
	EventSessionEnded:        true,
	EventSessionRestored:     true,
}

// Known reports membership in the closed event set.
func (e EventName) Known() bool {
	_, ok := sessionScoped[e]
	return ok
}

// RequiresSession routes the event to the session-events endpoint (true) or
// the pre-session endpoint (false), and determines the mandatory payload
// fields.
func (e EventName) RequiresSession() bool {
	return sessionScoped[e]
}

// ActiveSessionInfo exists if and only if the machine is in an active state.
// It is created on successful activation and destroyed on session end or
// hard timeout.
type ActiveSessionInfo struct {
	SessionID  string    `json:"session_id"`
	ChargerID  string    `json:"charger_id"`
	MerchantID string    `json:"merchant_id"`
	StartedAt  time.Time `json:"started_at"`
}
