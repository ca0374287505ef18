// SPDX-License-Identifier: MIT

// Package bridge implements the message protocol between the native layer
// and the embedded web content. Both directions share a flat
// {action, payload} envelope; native-to-content messages may carry a
// requestId that correlates them with an outstanding content-side request.
//
// Decoding fails closed: malformed input yields nil and is dropped by the
// dispatcher. The embedded content is an untrusted-ish peer whose broken
// messages must never destabilize the native layer.
package bridge

import (
	"encoding/json"

	"github.com/chargelink/sessiond/internal/geo"
	"github.com/chargelink/sessiond/internal/session"
)

// Actions sent by the embedded content.
const (
	ActionSetChargerTarget     = "SET_CHARGER_TARGET"
	ActionSetAuthToken         = "SET_AUTH_TOKEN"
	ActionConfirmActivated     = "CONFIRM_EXCLUSIVE_ACTIVATED"
	ActionConfirmVisitVerified = "CONFIRM_VISIT_VERIFIED"
	ActionEndSession           = "END_SESSION"
	ActionRequestAlwaysLoc     = "REQUEST_ALWAYS_LOCATION"
	ActionGetLocation          = "GET_LOCATION"
	ActionGetSessionState      = "GET_SESSION_STATE"
	ActionGetPermissionStatus  = "GET_PERMISSION_STATUS"
	ActionGetAuthToken         = "GET_AUTH_TOKEN"
)

// Actions pushed by the native layer.
const (
	ActionSessionStateChanged = "SESSION_STATE_CHANGED"
	ActionPermissionStatus    = "PERMISSION_STATUS"
	ActionLocationResponse    = "LOCATION_RESPONSE"
	ActionRejection           = "REJECTION"
	ActionError               = "ERROR"
	ActionEmissionFailed      = "EVENT_EMISSION_FAILED"
	ActionAuthRequired        = "AUTH_REQUIRED"
	ActionAuthTokenResponse   = "AUTH_TOKEN_RESPONSE"
	ActionReady               = "READY"
)

// Incoming is a decoded content-to-native message. The correlation
// identifier, when present, rides inside the payload.
type Incoming struct {
	Action    string
	Payload   map[string]any
	RequestID string
}

// Decode parses a raw inbound message. It returns nil for anything that is
// not a JSON object with a non-empty string action; it never panics and
// never returns an error.
func Decode(data []byte) *Incoming {
	var envelope struct {
		Action  string         `json:"action"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}
	if envelope.Action == "" {
		return nil
	}
	msg := &Incoming{Action: envelope.Action, Payload: envelope.Payload}
	if msg.Payload == nil {
		msg.Payload = map[string]any{}
	}
	if rid, ok := msg.Payload["requestId"].(string); ok {
		msg.RequestID = rid
	}
	return msg
}

// Str extracts a string payload field, empty when absent or mistyped.
func (m *Incoming) Str(key string) string {
	v, _ := m.Payload[key].(string)
	return v
}

// Float extracts a numeric payload field.
func (m *Incoming) Float(key string) (float64, bool) {
	v, ok := m.Payload[key].(float64)
	return v, ok
}

// Outgoing is a native-to-content message.
type Outgoing struct {
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
	RequestID string         `json:"requestId,omitempty"`
}

// Encode serializes the message for the transport.
func (o Outgoing) Encode() ([]byte, error) {
	if o.Payload == nil {
		o.Payload = map[string]any{}
	}
	return json.Marshal(o)
}

// Ready announces that the native layer finished booting.
func Ready() Outgoing {
	return Outgoing{Action: ActionReady, Payload: map[string]any{}}
}

// SessionStateChanged notifies the content of a state transition. sessionID
// is empty outside active states.
func SessionStateChanged(state session.State, sessionID string) Outgoing {
	payload := map[string]any{"state": string(state)}
	if sessionID != "" {
		payload["sessionId"] = sessionID
	}
	return Outgoing{Action: ActionSessionStateChanged, Payload: payload}
}

// PermissionStatus answers GET_PERMISSION_STATUS.
func PermissionStatus(status string, requestID string) Outgoing {
	return Outgoing{
		Action:    ActionPermissionStatus,
		Payload:   map[string]any{"status": status},
		RequestID: requestID,
	}
}

// LocationResponse answers GET_LOCATION.
func LocationResponse(sample geo.Sample, requestID string) Outgoing {
	return Outgoing{
		Action: ActionLocationResponse,
		Payload: map[string]any{
			"lat":      sample.Lat,
			"lng":      sample.Lng,
			"accuracy": sample.Accuracy,
			"speed":    sample.Speed,
			"time":     sample.Time.UTC().Format("2006-01-02T15:04:05Z07:00"),
		},
		RequestID: requestID,
	}
}

// Rejection tells the content an activation attempt was refused.
func Rejection(reason string, requestID string) Outgoing {
	return Outgoing{
		Action:    ActionRejection,
		Payload:   map[string]any{"reason": reason},
		RequestID: requestID,
	}
}

// ErrorMessage reports a native-side failure for a specific request.
func ErrorMessage(code, message, requestID string) Outgoing {
	return Outgoing{
		Action:    ActionError,
		Payload:   map[string]any{"code": code, "message": message},
		RequestID: requestID,
	}
}

// EmissionFailed reports that a backend emission exhausted its retries. The
// content decides how to present it; the engine has no UI.
func EmissionFailed(event session.EventName, eventID, reason string) Outgoing {
	return Outgoing{
		Action: ActionEmissionFailed,
		Payload: map[string]any{
			"event":   string(event),
			"eventId": eventID,
			"reason":  reason,
		},
	}
}

// AuthRequired asks the content to re-authenticate after a 401/403.
func AuthRequired() Outgoing {
	return Outgoing{Action: ActionAuthRequired, Payload: map[string]any{}}
}

// AuthTokenResponse answers GET_AUTH_TOKEN. token is empty when none stored.
func AuthTokenResponse(token string, requestID string) Outgoing {
	return Outgoing{
		Action:    ActionAuthTokenResponse,
		Payload:   map[string]any{"token": token},
		RequestID: requestID,
	}
}
