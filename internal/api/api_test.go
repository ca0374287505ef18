// SPDX-License-Identifier: MIT

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargelink/sessiond/internal/bridge"
	"github.com/chargelink/sessiond/internal/geo"
	"github.com/chargelink/sessiond/internal/health"
	"github.com/chargelink/sessiond/internal/session"
)

type recordingHandler struct {
	mu      sync.Mutex
	actions []string
}

func (h *recordingHandler) HandleAction(_ context.Context, msg *bridge.Incoming) (*bridge.Outgoing, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, msg.Action)
	return nil, nil
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.actions...)
}

type fakeEngine struct {
	dispatcher *bridge.Dispatcher

	mu      sync.Mutex
	samples []geo.Sample
	state   session.State
	info    *session.ActiveSessionInfo
}

func newFakeEngine(h bridge.Handler) *fakeEngine {
	return &fakeEngine{dispatcher: bridge.NewDispatcher(h), state: session.StateIdle}
}

func (e *fakeEngine) Dispatcher() *bridge.Dispatcher { return e.dispatcher }

func (e *fakeEngine) OnLocation(s geo.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, s)
}

func (e *fakeEngine) State() session.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *fakeEngine) ActiveSession() (session.ActiveSessionInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info == nil {
		return session.ActiveSessionInfo{}, false
	}
	return *e.info, true
}

func (e *fakeEngine) lastSample() (geo.Sample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.samples) == 0 {
		return geo.Sample{}, false
	}
	return e.samples[len(e.samples)-1], true
}

func newTestServer(t *testing.T, cfg Config) (*fakeEngine, *recordingHandler, http.Handler) {
	t.Helper()
	h := &recordingHandler{}
	eng := newFakeEngine(h)
	mgr := health.NewManager("test")
	return eng, h, New(eng, mgr, cfg).Router()
}

func TestBridgeMessageAccepted(t *testing.T) {
	_, h, router := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/bridge/message",
		strings.NewReader(`{"action":"END_SESSION","payload":{}}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{bridge.ActionEndSession}, h.seen())
}

func TestBridgeMessageMalformedStillAccepted(t *testing.T) {
	_, h, router := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/bridge/message", strings.NewReader(`{broken`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// The transport accepts; the dispatcher drops. Replies and errors travel
	// over the event stream, not the POST response.
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, h.seen())
}

func TestBridgeRateLimit(t *testing.T) {
	_, _, router := newTestServer(t, Config{BridgeRateRPS: 2, BridgeRateBurst: 1})

	tooMany := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/bridge/message",
			strings.NewReader(`{"action":"END_SESSION","payload":{}}`))
		req.RemoteAddr = "203.0.113.7:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			tooMany++
		}
	}
	assert.Positive(t, tooMany, "burst of 10 must trip the limiter")
}

func TestLocationIngest(t *testing.T) {
	eng, _, router := newTestServer(t, Config{})

	body := `{"lat":48.2,"lng":16.37,"accuracy":12.5,"speed":0.4,"time":"2026-08-28T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/location", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	sample, ok := eng.lastSample()
	require.True(t, ok)
	assert.Equal(t, 48.2, sample.Lat)
	assert.Equal(t, 12.5, sample.Accuracy)
	assert.Equal(t, 0.4, sample.Speed)
	assert.True(t, sample.HasSpeed())
	assert.Equal(t, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), sample.Time)
}

func TestLocationIngestMissingSpeed(t *testing.T) {
	eng, _, router := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/location",
		strings.NewReader(`{"lat":48.2,"lng":16.37,"accuracy":8}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	sample, ok := eng.lastSample()
	require.True(t, ok)
	assert.False(t, sample.HasSpeed(), "absent speed must map to unknown")
}

func TestLocationIngestRejectsGarbage(t *testing.T) {
	eng, _, router := newTestServer(t, Config{})

	cases := map[string]string{
		"invalid json":  `{nope`,
		"bad latitude":  `{"lat":91,"lng":0,"accuracy":5}`,
		"bad longitude": `{"lat":0,"lng":-181,"accuracy":5}`,
	}
	for name, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/location", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
	_, ok := eng.lastSample()
	assert.False(t, ok)
}

func TestSessionStateEndpoint(t *testing.T) {
	eng, _, router := newTestServer(t, Config{})
	eng.mu.Lock()
	eng.state = session.StateAtMerchant
	eng.info = &session.ActiveSessionInfo{SessionID: "sess-1", ChargerID: "chg-1", MerchantID: "mer-1", StartedAt: time.Now().UTC()}
	eng.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "AT_MERCHANT", resp["state"])
	sessionInfo, ok := resp["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sess-1", sessionInfo["session_id"])
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	_, _, router := newTestServer(t, Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, router := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRequestIDEchoed(t *testing.T) {
	_, _, router := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestBridgeEventsStream(t *testing.T) {
	eng, _, router := newTestServer(t, Config{})

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/bridge/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		return eng.dispatcher.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	eng.dispatcher.Publish(bridge.Ready())

	scanner := bufio.NewScanner(resp.Body)
	deadline := time.AfterFunc(2*time.Second, func() { _ = resp.Body.Close() })
	defer deadline.Stop()

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			var msg bridge.Outgoing
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
			assert.Equal(t, bridge.ActionReady, msg.Action)
			return
		}
	}
	t.Fatal("no event received on stream")
}
