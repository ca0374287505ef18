// SPDX-License-Identifier: MIT

// Package backend is the idempotent event delivery client. Every state
// transition becomes an event record carrying a globally unique event ID that
// doubles as its idempotency key, so the backend can deduplicate whatever the
// retry policy redelivers.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chargelink/sessiond/internal/config"
	"github.com/chargelink/sessiond/internal/log"
	"github.com/chargelink/sessiond/internal/metrics"
	"github.com/chargelink/sessiond/internal/session"
	"github.com/chargelink/sessiond/internal/tokenstore"
)

const (
	pathSessionEvents    = "/v1/native/session-events"
	pathPreSessionEvents = "/v1/native/pre-session-events"
	pathConfig           = "/v1/native/config"

	maxResponseBytes = 1 << 16
)

// Journaler records the outcome of each emission. Optional; see the journal
// package for the sqlite implementation.
type Journaler interface {
	Record(ctx context.Context, eventID, endpoint string, attempts int, outcome string, lastErr error)
}

// Client talks to the session backend.
type Client struct {
	base        string
	http        *http.Client
	tokens      tokenstore.Store
	journal     Journaler
	onAuth      func()
	maxAttempts uint
	baseDelay   time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithAuthRequiredCallback registers the escalation hook fired on 401/403.
func WithAuthRequiredCallback(fn func()) Option {
	return func(c *Client) { c.onAuth = fn }
}

// OnAuthRequired registers the escalation hook after construction. The
// daemon wires it to the bridge once the dispatcher exists.
func (c *Client) OnAuthRequired(fn func()) {
	c.onAuth = fn
}

// WithJournal attaches an emission journal.
func WithJournal(j Journaler) Option {
	return func(c *Client) { c.journal = j }
}

// WithMaxAttempts overrides the delivery attempt bound (default 3).
func WithMaxAttempts(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBaseDelay overrides the first backoff interval (default 1s).
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// New returns a client for the backend at base. The token store is consulted
// on every call.
func New(base string, tokens tokenstore.Store, opts ...Option) *Client {
	c := &Client{
		base:        strings.TrimRight(base, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		tokens:      tokens,
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmitSessionEvent delivers an event that requires an active session
// identifier to the session-events endpoint.
func (c *Client) EmitSessionEvent(ctx context.Context, sessionID string, event session.EventName, eventID string, occurredAt time.Time, appState string, metadata map[string]any) error {
	payload := eventPayload{
		SchemaVersion:  SchemaVersion,
		EventID:        eventID,
		IdempotencyKey: eventID,
		SessionID:      sessionID,
		Event:          event,
		OccurredAt:     wireTime(occurredAt),
		Source:         Source,
		AppState:       appState,
		Metadata:       metadata,
	}
	return c.emit(log.ContextWithSessionID(ctx, sessionID), "session-events", pathSessionEvents, payload)
}

// EmitPreSessionEvent delivers an event from before session activation to the
// pre-session endpoint. chargerID may be empty for events with no target yet.
func (c *Client) EmitPreSessionEvent(ctx context.Context, event session.EventName, chargerID, eventID string, occurredAt time.Time, metadata map[string]any) error {
	payload := eventPayload{
		SchemaVersion:  SchemaVersion,
		EventID:        eventID,
		IdempotencyKey: eventID,
		Event:          event,
		OccurredAt:     wireTime(occurredAt),
		Source:         Source,
		ChargerID:      chargerID,
		Metadata:       metadata,
	}
	return c.emit(ctx, "pre-session-events", pathPreSessionEvents, payload)
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = 30 * time.Second
	return b
}

func (c *Client) emit(ctx context.Context, endpoint, path string, payload eventPayload) error {
	logger := log.WithComponentFromContext(ctx, "backend")
	tracer := otel.Tracer("sessiond/backend")
	ctx, span := tracer.Start(ctx, "emit")
	defer span.End()
	span.SetAttributes(
		attribute.String("event", string(payload.Event)),
		attribute.String("event_id", payload.EventID),
		attribute.String("endpoint", endpoint),
	)

	body, err := json.Marshal(payload)
	if err != nil {
		return &BackendError{Sentinel: ErrBadResponse, Operation: "marshal " + endpoint, Err: err}
	}

	start := time.Now()
	attempts := 0
	authEscalated := false

	op := func() (string, error) {
		attempts++
		payload.Timestamp = wireTime(time.Now())
		// Re-marshal so the send-time timestamp is fresh per attempt.
		body, _ = json.Marshal(payload)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
		if err != nil {
			return "", backoff.Permanent(&BackendError{Sentinel: ErrTransport, Operation: endpoint, Err: err})
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", payload.IdempotencyKey)
		if token, err := c.tokens.Token(); err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		res, err := c.http.Do(req)
		if err != nil {
			return "", &BackendError{Sentinel: ErrTransport, Operation: endpoint, Err: err}
		}
		defer func() { _ = res.Body.Close() }()

		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))

		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			var ack ackBody
			if len(raw) > 0 {
				// A 2xx with an unparsable body is still a success; the ack
				// status is advisory.
				_ = json.Unmarshal(raw, &ack)
			}
			if ack.Status == ackAlreadyProcessed {
				return "already_processed", nil
			}
			return "success", nil

		case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
			// Credentials will not become valid by waiting.
			if !authEscalated {
				authEscalated = true
				if c.onAuth != nil {
					c.onAuth()
				}
			}
			return "", backoff.Permanent(&BackendError{
				Sentinel: ErrAuth, Operation: endpoint, Status: res.StatusCode,
			})

		case res.StatusCode == http.StatusTooManyRequests:
			return "", &BackendError{Sentinel: ErrRateLimited, Operation: endpoint, Status: res.StatusCode}

		case res.StatusCode >= 500:
			return "", &BackendError{Sentinel: ErrUnavailable, Operation: endpoint, Status: res.StatusCode}

		default:
			return "", &BackendError{
				Sentinel: ErrBadResponse, Operation: endpoint,
				Status: res.StatusCode, Body: strings.TrimSpace(string(raw)),
			}
		}
	}

	outcome, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			metrics.RecordEmissionRetry()
			logger.Warn().Err(err).
				Str("event", "backend.retry").
				Str("event_id", payload.EventID).
				Dur("delay", d).
				Msg("emission attempt failed, retrying")
		}),
	)
	metrics.ObserveEmissionDuration(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, ErrAuth) {
			metrics.RecordEmission(endpoint, "auth")
		} else {
			metrics.RecordEmission(endpoint, "exhausted")
		}
		span.RecordError(err)
		logger.Error().Err(err).
			Str("event", "backend.emission_failed").
			Str("event_id", payload.EventID).
			Int("attempts", attempts).
			Msg("event emission failed")
		if c.journal != nil {
			c.journal.Record(ctx, payload.EventID, endpoint, attempts, "failed", err)
		}
		return err
	}

	metrics.RecordEmission(endpoint, outcome)
	logger.Info().
		Str("event", "backend.emitted").
		Str("event_id", payload.EventID).
		Str("name", string(payload.Event)).
		Str("outcome", outcome).
		Int("attempts", attempts).
		Msg("event delivered")
	if c.journal != nil {
		c.journal.Record(ctx, payload.EventID, endpoint, attempts, outcome, nil)
	}
	return nil
}

// FetchConfig retrieves the remote session config. It never fails: any error
// is logged and the compiled-in defaults are returned, so startup cannot be
// blocked by the backend.
func (c *Client) FetchConfig(ctx context.Context) config.SessionConfig {
	logger := log.WithComponentFromContext(ctx, "backend")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+pathConfig, nil)
	if err != nil {
		metrics.RecordConfigRefresh("fallback")
		return config.Defaults()
	}
	if token, err := c.tokens.Token(); err == nil {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("event", "backend.config_fallback").Msg("config fetch failed, using defaults")
		metrics.RecordConfigRefresh("fallback")
		return config.Defaults()
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		logger.Warn().Int("status", res.StatusCode).
			Str("event", "backend.config_fallback").
			Msg("config fetch rejected, using defaults")
		metrics.RecordConfigRefresh("fallback")
		return config.Defaults()
	}

	var remote config.RemoteConfig
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&remote); err != nil {
		logger.Warn().Err(err).Str("event", "backend.config_fallback").Msg("config payload malformed, using defaults")
		metrics.RecordConfigRefresh("fallback")
		return config.Defaults()
	}

	metrics.RecordConfigRefresh("success")
	return config.Merge(config.Defaults(), remote)
}
