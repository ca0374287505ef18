// SPDX-License-Identifier: MIT

// Package dwell implements the anchor detector: continuous presence within a
// radius of a target, below a speed threshold, for a minimum duration.
//
// The policy is deliberately strict: a single disqualifying sample discards
// the open window and progress restarts from zero. There is no partial credit
// and no decay, so momentary loitering near a charger (a red light, a
// drive-by) can never complete an anchor.
package dwell

import (
	"sync"
	"time"

	"github.com/chargelink/sessiond/internal/geo"
	"github.com/chargelink/sessiond/internal/metrics"
)

// Params are the thresholds the detector evaluates each sample against.
type Params struct {
	AnchorRadiusM  float64
	DwellDuration  time.Duration
	SpeedThreshold float64 // m/s; samples at or above this speed disqualify
}

// Detector accumulates location samples and decides whether the device has
// been anchored at the current target. Progress is measured on the sample
// timestamps, not the wall clock, so replayed location traces evaluate
// identically.
type Detector struct {
	mu     sync.Mutex
	params Params

	windowOpen  bool
	windowStart time.Time
	lastSample  time.Time
}

// New returns a detector with the given thresholds.
func New(params Params) *Detector {
	return &Detector{params: params}
}

// SetParams replaces the thresholds. An open window is discarded because its
// progress was earned under different rules.
func (d *Detector) SetParams(params Params) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = params
	d.closeWindowLocked()
}

// RecordLocation feeds one sample plus its precomputed distance to the target.
// Missing speed (Sample.HasSpeed() == false) counts as stationary.
func (d *Detector) RecordLocation(sample geo.Sample, distanceToTarget float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	withinRadius := distanceToTarget <= d.params.AnchorRadiusM
	stationary := !sample.HasSpeed() || sample.Speed < d.params.SpeedThreshold

	if !withinRadius || !stationary {
		if d.windowOpen {
			metrics.RecordDwellDiscarded()
		}
		d.closeWindowLocked()
		return
	}

	if !d.windowOpen {
		d.windowOpen = true
		d.windowStart = sample.Time
	}
	d.lastSample = sample.Time
}

// IsAnchored reports whether a window is open and has covered the full dwell
// duration. Computed on read; RecordLocation never flips state by itself.
func (d *Detector) IsAnchored() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.windowOpen {
		return false
	}
	return d.lastSample.Sub(d.windowStart) >= d.params.DwellDuration
}

// Reset force-closes any open window. Used on target change or session end.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeWindowLocked()
}

func (d *Detector) closeWindowLocked() {
	d.windowOpen = false
	d.windowStart = time.Time{}
	d.lastSample = time.Time{}
}
