// SPDX-License-Identifier: MIT

// Package health provides health and readiness check functionality for the
// session daemon. It supports Docker HEALTHCHECK and Kubernetes probes with
// detailed component status.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/chargelink/sessiond/internal/log"
	"github.com/chargelink/sessiond/internal/store"
	"github.com/chargelink/sessiond/internal/tokenstore"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager manages health and readiness checks
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{
		version:  version,
		checkers: make([]Checker, 0),
	}
}

// RegisterChecker adds a health checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health performs a health check (liveness probe)
// Returns 200 if the process is alive, regardless of service state
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}

	if verbose && len(m.checkers) > 0 {
		resp.Checks = make(map[string]CheckResult)
		hasUnhealthy := false
		hasDegraded := false

		for _, checker := range m.checkers {
			result := checker.Check(ctx)
			resp.Checks[checker.Name()] = result

			switch result.Status {
			case StatusUnhealthy:
				hasUnhealthy = true
			case StatusDegraded:
				hasDegraded = true
			}
		}

		if hasUnhealthy {
			resp.Status = StatusUnhealthy
		} else if hasDegraded {
			resp.Status = StatusDegraded
		}
	}

	return resp
}

// Ready performs a readiness check (readiness probe)
// Returns 200 if the daemon is initialized and ready to process signals
func (m *Manager) Ready(ctx context.Context, _ bool) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	if len(m.checkers) == 0 {
		return resp
	}

	resp.Checks = make(map[string]CheckResult)
	hasUnhealthy := false
	hasDegraded := false

	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		resp.Checks[checker.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
			resp.Ready = false
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		resp.Status = StatusUnhealthy
	} else if hasDegraded {
		resp.Status = StatusDegraded
	}

	return resp
}

// ServeHealth handles HTTP health check requests
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // Always 200 for liveness

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Ready(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

// StoreChecker verifies the session store answers a read.
type StoreChecker struct {
	store store.SessionStore
}

// NewStoreChecker creates a checker backed by the given session store.
func NewStoreChecker(st store.SessionStore) *StoreChecker {
	return &StoreChecker{store: st}
}

func (c *StoreChecker) Name() string { return "session_store" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, found, err := c.store.Load(ctx)
	if err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	if found {
		return CheckResult{Status: StatusHealthy, Message: "persisted session present"}
	}
	return CheckResult{Status: StatusHealthy, Message: "no persisted session"}
}

// TokenChecker reports whether an auth token is stored. A missing token is
// degraded, not unhealthy: the daemon works, but emissions will escalate.
type TokenChecker struct {
	tokens tokenstore.Store
}

// NewTokenChecker creates a checker over the token store.
func NewTokenChecker(tokens tokenstore.Store) *TokenChecker {
	return &TokenChecker{tokens: tokens}
}

func (c *TokenChecker) Name() string { return "auth_token" }

func (c *TokenChecker) Check(context.Context) CheckResult {
	_, err := c.tokens.Token()
	if errors.Is(err, tokenstore.ErrNoToken) {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "no auth token stored yet",
		}
	}
	if err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "auth token present"}
}

// BridgeChecker reports whether any content transport is attached.
type BridgeChecker struct {
	subscriberCount func() int
}

// NewBridgeChecker creates a checker over the bridge dispatcher.
func NewBridgeChecker(subscriberCount func() int) *BridgeChecker {
	return &BridgeChecker{subscriberCount: subscriberCount}
}

func (c *BridgeChecker) Name() string { return "bridge" }

func (c *BridgeChecker) Check(context.Context) CheckResult {
	n := c.subscriberCount()
	if n == 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "no content transport attached",
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "content transport attached"}
}
