// SPDX-License-Identifier: MIT

package session

import "github.com/chargelink/sessiond/internal/geo"

// Target is a charger or merchant destination set by the embedded content.
// The engine owns the targets for the lifetime of the current journey attempt.
type Target struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point returns the target coordinates.
func (t Target) Point() geo.Point {
	return geo.Point{Lat: t.Lat, Lng: t.Lng}
}

// IsZero reports whether no target is set.
func (t Target) IsZero() bool {
	return t.ID == ""
}
