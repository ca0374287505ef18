// SPDX-License-Identifier: MIT

// Package engine wires the dwell detector, the session state machine, the
// event delivery client and the bridge into one component. All location
// samples and bridge actions are serialized through a single logical writer
// (the engine mutex), so detector windows and machine transitions can never
// race.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chargelink/sessiond/internal/bridge"
	"github.com/chargelink/sessiond/internal/config"
	"github.com/chargelink/sessiond/internal/dwell"
	"github.com/chargelink/sessiond/internal/geo"
	"github.com/chargelink/sessiond/internal/log"
	"github.com/chargelink/sessiond/internal/metrics"
	"github.com/chargelink/sessiond/internal/notify"
	"github.com/chargelink/sessiond/internal/session"
	"github.com/chargelink/sessiond/internal/store"
	"github.com/chargelink/sessiond/internal/tokenstore"
)

// Delivery is the backend client surface the engine needs.
type Delivery interface {
	EmitSessionEvent(ctx context.Context, sessionID string, event session.EventName, eventID string, occurredAt time.Time, appState string, metadata map[string]any) error
	EmitPreSessionEvent(ctx context.Context, event session.EventName, chargerID, eventID string, occurredAt time.Time, metadata map[string]any) error
	FetchConfig(ctx context.Context) config.SessionConfig
}

// Permissions is the platform location-permission collaborator.
type Permissions interface {
	Status() string
	RequestAlways()
}

// StaticPermissions is a fixed-status Permissions implementation, used until
// a platform shell provides a real one.
type StaticPermissions string

func (p StaticPermissions) Status() string { return string(p) }
func (StaticPermissions) RequestAlways()   {}

// emissionQueueSize bounds the background delivery queue. Overflow drops the
// event and reports the failure to the content rather than blocking the
// location path.
const emissionQueueSize = 128

// Deps carries the engine's collaborators.
type Deps struct {
	Config      *config.Manager
	Delivery    Delivery
	Store       store.SessionStore
	Tokens      tokenstore.Store
	Notifier    notify.Notifier
	Permissions Permissions
}

type emissionJob struct {
	event      session.EventName
	eventID    string
	sessionID  string // empty for pre-session events
	chargerID  string
	occurredAt time.Time
	appState   string
	metadata   map[string]any
}

// Engine is the session engine.
type Engine struct {
	cfg        *config.Manager
	delivery   Delivery
	store      store.SessionStore
	tokens     tokenstore.Store
	notifier   notify.Notifier
	perms      Permissions
	detector   *dwell.Detector
	machine    *session.Machine
	dispatcher *bridge.Dispatcher

	mu       sync.Mutex
	charger  session.Target
	merchant session.Target
	lastLoc  *geo.Sample
	appState string

	graceTimer *time.Timer
	hardTimer  *time.Timer

	bgCtx    context.Context
	bgCancel context.CancelFunc
	jobs     chan emissionJob
	closed   bool
	workerWG sync.WaitGroup
}

// New constructs the engine. Start must be called before it processes
// anything.
func New(deps Deps) *Engine {
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	if deps.Permissions == nil {
		deps.Permissions = StaticPermissions("not_determined")
	}
	cfg := deps.Config.Current()
	e := &Engine{
		cfg:      deps.Config,
		delivery: deps.Delivery,
		store:    deps.Store,
		tokens:   deps.Tokens,
		notifier: deps.Notifier,
		perms:    deps.Permissions,
		detector: dwell.New(dwell.Params{
			AnchorRadiusM:  cfg.ChargerAnchorRadiusM,
			DwellDuration:  cfg.AnchorDwell,
			SpeedThreshold: cfg.DwellSpeedThresholdMS,
		}),
		machine:  session.NewMachine(),
		appState: "foreground",
		jobs:     make(chan emissionJob, emissionQueueSize),
	}
	e.dispatcher = bridge.NewDispatcher(e)
	return e
}

// Dispatcher exposes the bridge dispatcher for transports.
func (e *Engine) Dispatcher() *bridge.Dispatcher { return e.dispatcher }

// State returns the current machine state.
func (e *Engine) State() session.State { return e.machine.State() }

// ActiveSession returns the current session info, if any.
func (e *Engine) ActiveSession() (session.ActiveSessionInfo, bool) { return e.machine.Active() }

// SetAppState records the host application lifecycle state attached to
// session events ("foreground" / "background").
func (e *Engine) SetAppState(state string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appState = state
}

// Start refreshes the remote config, restores a persisted session if one
// exists, and launches the background delivery worker. It returns once the
// engine is ready; the worker runs until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	logger := log.WithComponent("engine")

	if err := e.cfg.Apply(e.delivery.FetchConfig(ctx)); err != nil {
		// FetchConfig already fell back to defaults; a validation failure
		// here means the backend shipped a broken config. Keep the current
		// snapshot.
		logger.Warn().Err(err).Msg("remote config rejected, keeping current snapshot")
	}
	e.applyDetectorParams()

	e.bgCtx, e.bgCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.workerWG.Add(1)
	go e.deliveryWorker()

	e.restore(ctx)

	e.dispatcher.Publish(bridge.Ready())
	logger.Info().
		Str("event", "engine.started").
		Str("state", string(e.machine.State())).
		Msg("session engine started")
	return nil
}

// Close stops the delivery worker. Pending emissions are allowed to finish
// unless ctx expires first.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.jobs)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.bgCancel()
		<-done
	}
	e.mu.Lock()
	e.stopTimersLocked()
	e.mu.Unlock()
	return nil
}

func (e *Engine) applyDetectorParams() {
	cfg := e.cfg.Current()
	e.detector.SetParams(dwell.Params{
		AnchorRadiusM:  cfg.ChargerAnchorRadiusM,
		DwellDuration:  cfg.AnchorDwell,
		SpeedThreshold: cfg.DwellSpeedThresholdMS,
	})
}

// restore re-enters a persisted active state after relaunch.
func (e *Engine) restore(ctx context.Context) {
	snap, ok, err := e.store.Load(ctx)
	if err != nil {
		lg := log.WithComponent("engine")
		lg.Warn().Err(err).Msg("session restore failed, starting fresh")
		return
	}
	if !ok || !snap.State.IsActive() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tr := e.machine.Restore(snap.State, snap.Info)
	if !tr.Applied {
		return
	}
	e.charger = snap.Charger
	e.merchant = snap.Merchant

	elapsed := time.Since(snap.Info.StartedAt)
	remaining := e.cfg.Current().HardTimeout - elapsed
	if remaining <= 0 {
		// The session expired while the process was down.
		e.endSessionLocked(session.TriggerHardTimeout, session.EventSessionTimeout, "hard_timeout")
		return
	}
	e.hardTimer = time.AfterFunc(remaining, e.onHardTimeout)
	if snap.State == session.StateInTransit {
		// Transit progress was lost with the process; restart the full grace
		// window rather than guessing.
		e.graceTimer = time.AfterFunc(e.cfg.Current().GracePeriod, e.onGraceExpired)
	}

	e.enqueueSessionEvent(snap.Info.SessionID, session.EventSessionRestored, map[string]any{
		"state": string(snap.State),
	})
	e.publishStateLocked()
}

// OnLocation feeds one sample from the platform location subsystem.
func (e *Engine) OnLocation(sample geo.Sample) {
	cfg := e.cfg.Current()
	if sample.Accuracy > cfg.AccuracyThresholdM {
		metrics.RecordLocationSample("inaccurate")
		return
	}
	metrics.RecordLocationSample("accepted")

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastLoc = &sample
	if e.charger.IsZero() {
		return
	}

	distCharger := geo.Distance(sample.Point, e.charger.Point())

	switch e.machine.State() {
	case session.StateIdle:
		if distCharger <= cfg.ChargerIntentRadiusM {
			if tr := e.machine.Fire(session.TriggerEnteredIntentZone); tr.Changed {
				e.enqueuePreSessionEvent(session.EventChargerZoneEntered, nil)
				e.publishStateLocked()
			}
		}

	case session.StateNearCharger:
		if distCharger > cfg.ChargerIntentRadiusM {
			if tr := e.machine.Fire(session.TriggerExitedIntentZone); tr.Changed {
				e.detector.Reset()
				e.enqueuePreSessionEvent(session.EventChargerZoneExited, nil)
				e.publishStateLocked()
			}
			return
		}
		e.detector.RecordLocation(sample, distCharger)
		if e.detector.IsAnchored() {
			if tr := e.machine.Fire(session.TriggerDwellComplete); tr.Changed {
				metrics.RecordAnchorCompleted()
				e.enqueuePreSessionEvent(session.EventAnchorDwellComplete, nil)
				e.publishStateLocked()
			}
		}

	case session.StateAnchored:
		e.detector.RecordLocation(sample, distCharger)
		if !e.detector.IsAnchored() {
			if tr := e.machine.Fire(session.TriggerAnchorLost); tr.Changed {
				e.enqueuePreSessionEvent(session.EventAnchorLost, nil)
				e.publishStateLocked()
			}
		}

	case session.StateSessionActive:
		if distCharger > cfg.ChargerIntentRadiusM {
			if tr := e.machine.Fire(session.TriggerDepartedCharger); tr.Changed {
				info, _ := e.machine.Active()
				e.graceTimer = time.AfterFunc(cfg.GracePeriod, e.onGraceExpired)
				e.persistLocked()
				e.enqueueSessionEvent(info.SessionID, session.EventDepartedCharger, map[string]any{
					"distance_m": distCharger,
				})
				e.publishStateLocked()
			}
		}

	case session.StateInTransit:
		if e.merchant.IsZero() {
			return
		}
		distMerchant := geo.Distance(sample.Point, e.merchant.Point())
		if distMerchant <= cfg.MerchantUnlockRadiusM {
			if tr := e.machine.Fire(session.TriggerEnteredMerchantZone); tr.Changed {
				e.stopGraceTimerLocked()
				info, _ := e.machine.Active()
				e.persistLocked()
				e.enqueueSessionEvent(info.SessionID, session.EventMerchantZoneEntered, map[string]any{
					"merchant_id": e.merchant.ID,
					"distance_m":  distMerchant,
				})
				e.notifier.MerchantArrived(info.SessionID, e.merchant.ID)
				e.publishStateLocked()
			}
		}

	case session.StateAtMerchant, session.StateSessionEnded:
		// Nothing location-driven here.
	}
}

// HandleAction implements bridge.Handler. Unknown actions are dropped.
func (e *Engine) HandleAction(ctx context.Context, msg *bridge.Incoming) (*bridge.Outgoing, error) {
	switch msg.Action {
	case bridge.ActionSetChargerTarget:
		return nil, e.setChargerTarget(msg)
	case bridge.ActionSetAuthToken:
		return nil, e.tokens.SetToken(msg.Str("token"))
	case bridge.ActionConfirmActivated:
		return nil, e.confirmActivated(msg)
	case bridge.ActionConfirmVisitVerified:
		return nil, e.confirmVisitVerified(msg)
	case bridge.ActionEndSession:
		e.EndSession("web_requested")
		return nil, nil
	case bridge.ActionRequestAlwaysLoc:
		e.perms.RequestAlways()
		e.dispatcher.Publish(bridge.PermissionStatus(e.perms.Status(), ""))
		return nil, nil

	case bridge.ActionGetLocation:
		e.mu.Lock()
		loc := e.lastLoc
		e.mu.Unlock()
		if loc == nil {
			reply := bridge.ErrorMessage("no_location", "no location sample received yet", msg.RequestID)
			return &reply, nil
		}
		reply := bridge.LocationResponse(*loc, msg.RequestID)
		return &reply, nil

	case bridge.ActionGetSessionState:
		sessionID := ""
		if info, ok := e.machine.Active(); ok {
			sessionID = info.SessionID
		}
		reply := bridge.SessionStateChanged(e.machine.State(), sessionID)
		reply.RequestID = msg.RequestID
		return &reply, nil

	case bridge.ActionGetPermissionStatus:
		reply := bridge.PermissionStatus(e.perms.Status(), msg.RequestID)
		return &reply, nil

	case bridge.ActionGetAuthToken:
		token, err := e.tokens.Token()
		if err != nil {
			token = ""
		}
		reply := bridge.AuthTokenResponse(token, msg.RequestID)
		return &reply, nil

	default:
		metrics.RecordBridgeInbound("unknown_action")
		lg := log.WithComponentFromContext(ctx, "engine")
		lg.Debug().
			Str("event", "engine.unknown_action").
			Str("action", msg.Action).
			Msg("dropping unknown bridge action")
		return nil, nil
	}
}

func (e *Engine) setChargerTarget(msg *bridge.Incoming) error {
	id := msg.Str("id")
	lat, latOK := msg.Float("lat")
	lng, lngOK := msg.Float("lng")
	if id == "" || !latOK || !lngOK {
		return fmt.Errorf("engine: SET_CHARGER_TARGET requires id, lat, lng")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machine.State().IsActive() {
		return fmt.Errorf("engine: cannot retarget while a session is active")
	}

	e.charger = session.Target{ID: id, Lat: lat, Lng: lng}
	e.merchant = session.Target{}
	e.machine.Reset()
	e.detector.Reset()
	e.enqueuePreSessionEvent(session.EventChargerTargeted, nil)
	e.publishStateLocked()

	lg := log.WithComponent("engine")

	lg.Info().
		Str("event", "engine.charger_targeted").
		Str("charger_id", id).
		Msg("charger target set")
	return nil
}

func (e *Engine) confirmActivated(msg *bridge.Incoming) error {
	sessionID := msg.Str("sessionId")
	merchantID := msg.Str("merchantId")
	lat, latOK := msg.Float("lat")
	lng, lngOK := msg.Float("lng")
	if sessionID == "" || merchantID == "" || !latOK || !lngOK {
		return fmt.Errorf("engine: CONFIRM_EXCLUSIVE_ACTIVATED requires sessionId, merchantId, lat, lng")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.machine.BeginActivation(); err != nil {
		e.dispatcher.Publish(bridge.Rejection(err.Error(), msg.RequestID))
		e.enqueuePreSessionEvent(session.EventActivationRejected, map[string]any{
			"reason": err.Error(),
		})
		return nil
	}

	info := session.ActiveSessionInfo{
		SessionID:  sessionID,
		ChargerID:  e.charger.ID,
		MerchantID: merchantID,
		StartedAt:  time.Now().UTC(),
	}
	tr := e.machine.CompleteActivation(info)
	if !tr.Applied {
		// Anchor lost between guard and completion; machine already moved on.
		e.dispatcher.Publish(bridge.Rejection("anchor lost during activation", msg.RequestID))
		return nil
	}

	e.merchant = session.Target{ID: merchantID, Lat: lat, Lng: lng}
	e.hardTimer = time.AfterFunc(e.cfg.Current().HardTimeout, e.onHardTimeout)
	e.persistLocked()
	e.enqueueSessionEvent(sessionID, session.EventSessionActivated, map[string]any{
		"charger_id":  info.ChargerID,
		"merchant_id": merchantID,
	})
	e.publishStateLocked()
	return nil
}

func (e *Engine) confirmVisitVerified(msg *bridge.Incoming) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tr := e.machine.Fire(session.TriggerVisitVerified)
	if !tr.Applied {
		return nil
	}
	info, ok := e.machine.Active()
	if !ok {
		return nil
	}
	metadata := map[string]any{}
	if code := msg.Str("code"); code != "" {
		metadata["code"] = code
	}
	e.enqueueSessionEvent(info.SessionID, session.EventVisitVerified, metadata)
	return nil
}

// EndSession ends the current session on behalf of the embedded content.
// A no-op outside the states that allow a web-requested end.
func (e *Engine) EndSession(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endSessionLocked(session.TriggerSessionEndRequested, session.EventSessionEnded, reason)
}

func (e *Engine) onGraceExpired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endSessionLocked(session.TriggerGraceExpired, session.EventGracePeriodExpired, "grace_expired")
}

func (e *Engine) onHardTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endSessionLocked(session.TriggerHardTimeout, session.EventSessionTimeout, "hard_timeout")
}

// endSessionLocked performs the end-of-session sequence: transition, timer
// teardown, synchronous detector reset and store clear, then the event
// emission in the background. In-flight emissions for the ended session may
// still complete but can no longer touch engine state.
func (e *Engine) endSessionLocked(trigger session.Trigger, event session.EventName, reason string) {
	info, hadSession := e.machine.Active()
	tr := e.machine.Fire(trigger)
	if !tr.Changed || tr.To != session.StateSessionEnded {
		return
	}

	e.stopTimersLocked()
	e.detector.Reset()

	clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Clear(clearCtx); err != nil {
		lg := log.WithComponent("engine")
		lg.Warn().Err(err).Msg("failed to clear persisted session")
	}

	if hadSession {
		e.enqueueSessionEvent(info.SessionID, event, map[string]any{"reason": reason})
		e.notifier.SessionEnded(info.SessionID, reason)
	}
	e.publishStateLocked()
}

func (e *Engine) stopGraceTimerLocked() {
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
}

func (e *Engine) stopTimersLocked() {
	e.stopGraceTimerLocked()
	if e.hardTimer != nil {
		e.hardTimer.Stop()
		e.hardTimer = nil
	}
}

func (e *Engine) persistLocked() {
	info, ok := e.machine.Active()
	if !ok {
		return
	}
	snap := store.PersistedSession{
		State:    e.machine.State(),
		Info:     info,
		Charger:  e.charger,
		Merchant: e.merchant,
		SavedAt:  time.Now().UTC(),
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Save(saveCtx, snap); err != nil {
		lg := log.WithComponent("engine")
		lg.Warn().Err(err).Msg("failed to persist session snapshot")
	}
}

func (e *Engine) publishStateLocked() {
	sessionID := ""
	if info, ok := e.machine.Active(); ok {
		sessionID = info.SessionID
	}
	e.dispatcher.Publish(bridge.SessionStateChanged(e.machine.State(), sessionID))
}

func (e *Engine) enqueueSessionEvent(sessionID string, event session.EventName, metadata map[string]any) {
	e.enqueue(emissionJob{
		event:      event,
		eventID:    uuid.NewString(),
		sessionID:  sessionID,
		occurredAt: time.Now().UTC(),
		appState:   e.appState,
		metadata:   metadata,
	})
}

func (e *Engine) enqueuePreSessionEvent(event session.EventName, metadata map[string]any) {
	e.enqueue(emissionJob{
		event:      event,
		eventID:    uuid.NewString(),
		chargerID:  e.charger.ID,
		occurredAt: time.Now().UTC(),
		metadata:   metadata,
	})
}

// enqueue requires e.mu to be held.
func (e *Engine) enqueue(job emissionJob) {
	if e.closed {
		return
	}
	select {
	case e.jobs <- job:
	default:
		lg := log.WithComponent("engine")
		lg.Error().
			Str("event", "engine.emission_queue_full").
			Str("name", string(job.event)).
			Msg("dropping event emission, queue full")
		e.dispatcher.Publish(bridge.EmissionFailed(job.event, job.eventID, "emission queue full"))
	}
}

// deliveryWorker drains the emission queue one job at a time. A single
// in-flight emission is the unit of work; retry backoff blocks only this
// goroutine, never the location path.
func (e *Engine) deliveryWorker() {
	defer e.workerWG.Done()
	for job := range e.jobs {
		var err error
		if job.event.RequiresSession() {
			err = e.delivery.EmitSessionEvent(e.bgCtx, job.sessionID, job.event, job.eventID, job.occurredAt, job.appState, job.metadata)
		} else {
			err = e.delivery.EmitPreSessionEvent(e.bgCtx, job.event, job.chargerID, job.eventID, job.occurredAt, job.metadata)
		}
		if err != nil {
			e.dispatcher.Publish(bridge.EmissionFailed(job.event, job.eventID, err.Error()))
		}
	}
}
