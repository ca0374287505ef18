// SPDX-License-Identifier: MIT

// Package geo holds the location sample type and great-circle distance math
// shared by the dwell detector and the session engine.
package geo

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Sample is a single reading from the platform location subsystem.
// Speed is in m/s; a negative value means the provider did not report one.
// Accuracy is the horizontal accuracy radius in meters.
type Sample struct {
	Point
	Accuracy float64   `json:"accuracy"`
	Speed    float64   `json:"speed"`
	Time     time.Time `json:"time"`
}

// HasSpeed reports whether the provider supplied a speed reading.
func (s Sample) HasSpeed() bool {
	return s.Speed >= 0
}

// Distance returns the haversine distance between two points in meters.
func Distance(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
