// SPDX-License-Identifier: MIT

// Package notify is the boundary to the platform push-notification renderer.
// Rendering is an external collaborator; the engine only reports moments the
// host may want to surface.
package notify

import "github.com/chargelink/sessiond/internal/log"

// Notifier receives user-facing journey moments.
type Notifier interface {
	MerchantArrived(sessionID, merchantID string)
	SessionEnded(sessionID, reason string)
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) MerchantArrived(string, string) {}
func (Noop) SessionEnded(string, string)    {}

// Logging writes notifications to the structured log. Useful as the default
// wiring until a platform renderer is attached.
type Logging struct{}

func (Logging) MerchantArrived(sessionID, merchantID string) {
	lg := log.WithComponent("notify")
	lg.Info().
		Str("event", "notify.merchant_arrived").
		Str("session_id", sessionID).
		Str("merchant_id", merchantID).
		Msg("merchant arrival notification")
}

func (Logging) SessionEnded(sessionID, reason string) {
	lg := log.WithComponent("notify")
	lg.Info().
		Str("event", "notify.session_ended").
		Str("session_id", sessionID).
		Str("reason", reason).
		Msg("session end notification")
}
