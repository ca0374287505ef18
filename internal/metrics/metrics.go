// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Journey metrics
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_state_transitions_total",
		Help: "Session state transitions by from/to state",
	}, []string{"from", "to"})

	triggersIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_triggers_ignored_total",
		Help: "Triggers that were no-ops for the current state",
	}, []string{"trigger", "state"})

	anchorsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_anchors_completed_total",
		Help: "Dwell windows that reached the full anchor duration",
	})

	dwellWindowsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_dwell_windows_discarded_total",
		Help: "Open dwell windows discarded by a disqualifying sample",
	})

	locationSamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_location_samples_total",
		Help: "Location samples by outcome",
	}, []string{"outcome"}) // outcome=accepted|inaccurate|throttled

	// Delivery metrics
	emissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_event_emissions_total",
		Help: "Backend event emissions by endpoint and outcome",
	}, []string{"endpoint", "outcome"}) // outcome=success|already_processed|auth|exhausted

	emissionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_event_emission_retries_total",
		Help: "Individual retry attempts across all emissions",
	})

	emissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sessiond_event_emission_duration_seconds",
		Help:    "Wall time of a full emission including retries",
		Buckets: prometheus.DefBuckets,
	})

	configRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_config_refreshes_total",
		Help: "Remote config fetches by outcome",
	}, []string{"outcome"}) // outcome=success|fallback

	// Bridge metrics
	bridgeInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_bridge_inbound_total",
		Help: "Inbound bridge messages by outcome",
	}, []string{"outcome"}) // outcome=dispatched|dropped|unknown_action

	bridgeOutbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_bridge_outbound_total",
		Help: "Outbound bridge messages by action",
	}, []string{"action"})
)

func RecordTransition(from, to string)        { stateTransitions.WithLabelValues(from, to).Inc() }
func RecordIgnoredTrigger(trig, state string) { triggersIgnored.WithLabelValues(trig, state).Inc() }
func RecordAnchorCompleted()                  { anchorsCompleted.Inc() }
func RecordDwellDiscarded()                   { dwellWindowsDiscarded.Inc() }
func RecordLocationSample(outcome string)     { locationSamples.WithLabelValues(outcome).Inc() }

func RecordEmission(endpoint, outcome string) { emissions.WithLabelValues(endpoint, outcome).Inc() }
func RecordEmissionRetry()                    { emissionRetries.Inc() }
func ObserveEmissionDuration(sec float64)     { emissionDuration.Observe(sec) }
func RecordConfigRefresh(outcome string)      { configRefreshes.WithLabelValues(outcome).Inc() }

func RecordBridgeInbound(outcome string) { bridgeInbound.WithLabelValues(outcome).Inc() }
func RecordBridgeOutbound(action string) { bridgeOutbound.WithLabelValues(action).Inc() }
