// SPDX-License-Identifier: MIT

// Package config holds the session thresholds and daemon configuration.
//
// SessionConfig is immutable once loaded and replaced wholesale on refresh.
// Compiled-in defaults are used until a remote fetch succeeds; a remote
// payload that omits a field falls back to the default for that field.
package config

import (
	"fmt"
	"time"
)

// SessionConfig carries the named thresholds that drive the dwell detector
// and the session state machine. All radii are meters, speeds m/s.
type SessionConfig struct {
	ChargerIntentRadiusM  float64       `yaml:"chargerIntentRadiusM" json:"charger_intent_radius_m"`
	ChargerAnchorRadiusM  float64       `yaml:"chargerAnchorRadiusM" json:"charger_anchor_radius_m"`
	AnchorDwell           time.Duration `yaml:"anchorDwell" json:"anchor_dwell"`
	MerchantUnlockRadiusM float64       `yaml:"merchantUnlockRadiusM" json:"merchant_unlock_radius_m"`
	GracePeriod           time.Duration `yaml:"gracePeriod" json:"grace_period"`
	HardTimeout           time.Duration `yaml:"hardTimeout" json:"hard_timeout"`
	AccuracyThresholdM    float64       `yaml:"accuracyThresholdM" json:"accuracy_threshold_m"`
	DwellSpeedThresholdMS float64       `yaml:"dwellSpeedThresholdMS" json:"dwell_speed_threshold_ms"`
}

// Defaults returns the compiled-in fallback thresholds.
func Defaults() SessionConfig {
	return SessionConfig{
		ChargerIntentRadiusM:  150,
		ChargerAnchorRadiusM:  30,
		AnchorDwell:           120 * time.Second,
		MerchantUnlockRadiusM: 75,
		GracePeriod:           15 * time.Minute,
		HardTimeout:           4 * time.Hour,
		AccuracyThresholdM:    50,
		DwellSpeedThresholdMS: 1.5,
	}
}

// Validate rejects threshold combinations that can never produce a session.
func (c SessionConfig) Validate() error {
	if c.ChargerAnchorRadiusM <= 0 {
		return fmt.Errorf("config: charger anchor radius must be positive, got %v", c.ChargerAnchorRadiusM)
	}
	if c.ChargerIntentRadiusM < c.ChargerAnchorRadiusM {
		return fmt.Errorf("config: intent radius %v smaller than anchor radius %v",
			c.ChargerIntentRadiusM, c.ChargerAnchorRadiusM)
	}
	if c.AnchorDwell <= 0 {
		return fmt.Errorf("config: anchor dwell must be positive, got %v", c.AnchorDwell)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("config: grace period must be positive, got %v", c.GracePeriod)
	}
	if c.HardTimeout < c.GracePeriod {
		return fmt.Errorf("config: hard timeout %v shorter than grace period %v", c.HardTimeout, c.GracePeriod)
	}
	if c.DwellSpeedThresholdMS <= 0 {
		return fmt.Errorf("config: dwell speed threshold must be positive, got %v", c.DwellSpeedThresholdMS)
	}
	return nil
}
