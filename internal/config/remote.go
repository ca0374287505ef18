// SPDX-License-Identifier: MIT

package config

import "time"

// RemoteConfig mirrors the backend /v1/native/config payload. Every field is
// optional; absent fields keep the compiled-in default. Durations arrive as
// plain seconds on the wire.
type RemoteConfig struct {
	ChargerIntentRadiusM  *float64 `json:"charger_intent_radius_m,omitempty"`
	ChargerAnchorRadiusM  *float64 `json:"charger_anchor_radius_m,omitempty"`
	AnchorDwellSeconds    *int     `json:"anchor_dwell_seconds,omitempty"`
	MerchantUnlockRadiusM *float64 `json:"merchant_unlock_radius_m,omitempty"`
	GracePeriodSeconds    *int     `json:"grace_period_seconds,omitempty"`
	HardTimeoutSeconds    *int     `json:"hard_timeout_seconds,omitempty"`
	AccuracyThresholdM    *float64 `json:"accuracy_threshold_m,omitempty"`
	DwellSpeedThresholdMS *float64 `json:"dwell_speed_threshold_ms,omitempty"`
}

// Merge overlays the remote payload on base, field by field. The result is a
// fresh value; base is never mutated.
func Merge(base SessionConfig, remote RemoteConfig) SessionConfig {
	out := base
	if remote.ChargerIntentRadiusM != nil {
		out.ChargerIntentRadiusM = *remote.ChargerIntentRadiusM
	}
	if remote.ChargerAnchorRadiusM != nil {
		out.ChargerAnchorRadiusM = *remote.ChargerAnchorRadiusM
	}
	if remote.AnchorDwellSeconds != nil {
		out.AnchorDwell = time.Duration(*remote.AnchorDwellSeconds) * time.Second
	}
	if remote.MerchantUnlockRadiusM != nil {
		out.MerchantUnlockRadiusM = *remote.MerchantUnlockRadiusM
	}
	if remote.GracePeriodSeconds != nil {
		out.GracePeriod = time.Duration(*remote.GracePeriodSeconds) * time.Second
	}
	if remote.HardTimeoutSeconds != nil {
		out.HardTimeout = time.Duration(*remote.HardTimeoutSeconds) * time.Second
	}
	if remote.AccuracyThresholdM != nil {
		out.AccuracyThresholdM = *remote.AccuracyThresholdM
	}
	if remote.DwellSpeedThresholdMS != nil {
		out.DwellSpeedThresholdMS = *remote.DwellSpeedThresholdMS
	}
	return out
}
