// SPDX-License-Identifier: MIT

package backend

import (
	"time"

	"github.com/chargelink/sessiond/internal/session"
)

// SchemaVersion is the wire version of the event envelope.
const SchemaVersion = 1

// Source tags every emission with the producing component.
const Source = "sessiond"

// eventPayload is the envelope for both event endpoints. session_id and
// app_state are present only on the session-events endpoint; charger_id only
// on the pre-session endpoint.
//
// occurred_at is when the event happened (UTC, second precision); timestamp
// is when this request was sent. The two differ whenever a retry or an
// offline gap delays delivery.
type eventPayload struct {
	SchemaVersion  int               `json:"schema_version"`
	EventID        string            `json:"event_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	SessionID      string            `json:"session_id,omitempty"`
	Event          session.EventName `json:"event"`
	OccurredAt     string            `json:"occurred_at"`
	Timestamp      string            `json:"timestamp"`
	Source         string            `json:"source"`
	AppState       string            `json:"app_state,omitempty"`
	ChargerID      string            `json:"charger_id,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

func wireTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ackBody is the optional 2xx response body. status "already_processed" means
// the backend saw this idempotency key before; it is treated identically to a
// fresh success. This is the idempotency contract observed by the caller.
type ackBody struct {
	Status string `json:"status"`
}

const ackAlreadyProcessed = "already_processed"
