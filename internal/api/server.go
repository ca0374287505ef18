// SPDX-License-Identifier: MIT

// Package api exposes the daemon's local HTTP surface: the bridge transport
// for embedded content, location ingest, health probes and metrics. It binds
// to localhost in normal operation; nothing here is meant for the open
// internet.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/chargelink/sessiond/internal/bridge"
	"github.com/chargelink/sessiond/internal/geo"
	"github.com/chargelink/sessiond/internal/health"
	"github.com/chargelink/sessiond/internal/log"
	"github.com/chargelink/sessiond/internal/metrics"
	"github.com/chargelink/sessiond/internal/session"
)

// maxBridgeBody bounds inbound bridge messages. Content that sends more than
// this is broken or hostile either way.
const maxBridgeBody = 64 << 10

// Engine is the surface the HTTP layer needs from the session engine.
type Engine interface {
	Dispatcher() *bridge.Dispatcher
	OnLocation(geo.Sample)
	State() session.State
	ActiveSession() (session.ActiveSessionInfo, bool)
}

// Config tunes the HTTP surface.
type Config struct {
	// BridgeRateRPS / BridgeRateBurst protect the bridge inbound endpoint
	// per client IP.
	BridgeRateRPS   int
	BridgeRateBurst int
}

// Server owns the router and its collaborators.
type Server struct {
	engine  Engine
	health  *health.Manager
	cfg     Config
	locRate *rate.Limiter
}

// New builds the HTTP server facade.
func New(eng Engine, healthMgr *health.Manager, cfg Config) *Server {
	if cfg.BridgeRateRPS <= 0 {
		cfg.BridgeRateRPS = 20
	}
	if cfg.BridgeRateBurst <= 0 {
		cfg.BridgeRateBurst = 2 * cfg.BridgeRateRPS
	}
	return &Server{
		engine: eng,
		health: healthMgr,
		cfg:    cfg,
		// Location providers deliver at ~1Hz; anything far above that is a
		// feedback loop, not signal.
		locRate: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// Router assembles the chi router with the shared middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(accessLogMiddleware)

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(bridgeRateLimit(s.cfg.BridgeRateRPS, s.cfg.BridgeRateBurst))
			r.Post("/bridge/message", s.handleBridgeMessage)
		})
		r.Get("/bridge/events", s.handleBridgeEvents)
		r.Post("/location", s.handleLocation)
		r.Get("/session", s.handleSessionState)
	})

	return r
}

// handleBridgeMessage accepts one content-to-native message. The response is
// always 202: replies travel over the event stream, and malformed input is
// dropped by the dispatcher rather than reported.
func (s *Server) handleBridgeMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBridgeBody))
	if err != nil {
		http.Error(w, `{"error":"read_failed"}`, http.StatusBadRequest)
		return
	}

	s.engine.Dispatcher().Dispatch(r.Context(), body)
	w.WriteHeader(http.StatusAccepted)
}

// handleBridgeEvents streams native-to-content messages as server-sent
// events. One subscription per connection; the subscriber is dropped when the
// client goes away.
func (s *Server) handleBridgeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := s.engine.Dispatcher().Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Debug().Str("event", "api.sse_attached").Msg("content transport attached")

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, open := <-ch:
			if !open {
				return
			}
			raw, err := msg.Encode()
			if err != nil {
				logger.Error().Err(err).Str("action", msg.Action).Msg("failed to encode outbound message")
				continue
			}
			if _, err := io.WriteString(w, "data: "+string(raw)+"\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type locationRequest struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
	Speed    *float64 `json:"speed"`
	Time     string  `json:"time"`
}

// handleLocation ingests one location sample from the platform shim.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if !s.locRate.Allow() {
		metrics.RecordLocationSample("throttled")
		http.Error(w, `{"error":"rate_limit_exceeded"}`, http.StatusTooManyRequests)
		return
	}

	var req locationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBridgeBody)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json"}`, http.StatusBadRequest)
		return
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180 {
		http.Error(w, `{"error":"invalid_coordinates"}`, http.StatusBadRequest)
		return
	}

	sample := geo.Sample{
		Point:    geo.Point{Lat: req.Lat, Lng: req.Lng},
		Accuracy: req.Accuracy,
		Speed:    -1, // unknown unless provided
		Time:     time.Now().UTC(),
	}
	if req.Speed != nil {
		sample.Speed = *req.Speed
	}
	if req.Time != "" {
		if ts, err := time.Parse(time.RFC3339, req.Time); err == nil {
			sample.Time = ts
		}
	}

	s.engine.OnLocation(sample)
	w.WriteHeader(http.StatusAccepted)
}

// handleSessionState reports the engine state for local inspection.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"state": string(s.engine.State()),
	}
	if info, ok := s.engine.ActiveSession(); ok {
		resp["session"] = info
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Error().Err(err).Msg("failed to encode session state")
	}
}
