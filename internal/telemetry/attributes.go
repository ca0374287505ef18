// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for the session
// daemon.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the daemon.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Session attributes
	SessionIDKey    = "session.id"
	SessionStateKey = "session.state"
	ChargerIDKey    = "session.charger_id"
	MerchantIDKey   = "session.merchant_id"

	// Emission attributes
	EmissionEventKey    = "emission.event"
	EmissionEventIDKey  = "emission.event_id"
	EmissionEndpointKey = "emission.endpoint"
	EmissionAttemptsKey = "emission.attempts"

	// Bridge attributes
	BridgeActionKey    = "bridge.action"
	BridgeRequestIDKey = "bridge.request_id"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes creates session-related span attributes. Empty fields are
// omitted.
func SessionAttributes(sessionID, state, chargerID, merchantID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(SessionStateKey, state))
	}
	if chargerID != "" {
		attrs = append(attrs, attribute.String(ChargerIDKey, chargerID))
	}
	if merchantID != "" {
		attrs = append(attrs, attribute.String(MerchantIDKey, merchantID))
	}
	return attrs
}

// EmissionAttributes creates event-delivery span attributes.
func EmissionAttributes(event, eventID, endpoint string, attempts int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EmissionEventKey, event),
		attribute.String(EmissionEventIDKey, eventID),
		attribute.String(EmissionEndpointKey, endpoint),
		attribute.Int(EmissionAttemptsKey, attempts),
	}
}

// BridgeAttributes creates bridge-related span attributes.
func BridgeAttributes(action, requestID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	attrs = append(attrs, attribute.String(BridgeActionKey, action))
	if requestID != "" {
		attrs = append(attrs, attribute.String(BridgeRequestIDKey, requestID))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
