// SPDX-License-Identifier: MIT

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInfo() ActiveSessionInfo {
	return ActiveSessionInfo{
		SessionID:  "sess-1",
		ChargerID:  "chg-7",
		MerchantID: "mrc-3",
		StartedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func activated(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine()
	m.Fire(TriggerEnteredIntentZone)
	m.Fire(TriggerDwellComplete)
	require.NoError(t, m.BeginActivation())
	tr := m.CompleteActivation(testInfo())
	require.True(t, tr.Applied)
	return m
}

func TestHappyPathToSessionEnd(t *testing.T) {
	m := activated(t)
	assert.Equal(t, StateSessionActive, m.State())

	tr := m.Fire(TriggerDepartedCharger)
	assert.True(t, tr.Changed)
	assert.Equal(t, StateInTransit, m.State())

	tr = m.Fire(TriggerEnteredMerchantZone)
	assert.True(t, tr.Changed)
	assert.Equal(t, StateAtMerchant, m.State())

	tr = m.Fire(TriggerSessionEndRequested)
	assert.True(t, tr.Changed)
	assert.Equal(t, StateSessionEnded, m.State())

	_, ok := m.Active()
	assert.False(t, ok, "SESSION_ENDED destroys ActiveSessionInfo")
}

func TestIllegalTriggersAreNoOps(t *testing.T) {
	m := NewMachine()

	for _, trig := range []Trigger{
		TriggerDepartedCharger,
		TriggerDwellComplete,
		TriggerVisitVerified,
		TriggerGraceExpired,
		TriggerHardTimeout,
		TriggerSessionEndRequested,
	} {
		tr := m.Fire(trig)
		assert.False(t, tr.Applied, "trigger %s should be ignored in IDLE", trig)
		assert.Equal(t, StateIdle, m.State())
	}
}

func TestActiveSessionInvariant(t *testing.T) {
	m := NewMachine()

	_, ok := m.Active()
	assert.False(t, ok)

	m.Fire(TriggerEnteredIntentZone)
	m.Fire(TriggerDwellComplete)
	_, ok = m.Active()
	assert.False(t, ok, "no session info before activation")

	require.NoError(t, m.BeginActivation())
	m.CompleteActivation(testInfo())

	for _, step := range []Trigger{TriggerDepartedCharger, TriggerEnteredMerchantZone} {
		m.Fire(step)
		info, ok := m.Active()
		require.True(t, ok, "info must exist in active state %s", m.State())
		assert.Equal(t, "sess-1", info.SessionID)
	}

	m.Fire(TriggerHardTimeout)
	_, ok = m.Active()
	assert.False(t, ok)
}

func TestAnchorLostReturnsToNearCharger(t *testing.T) {
	m := NewMachine()
	m.Fire(TriggerEnteredIntentZone)
	m.Fire(TriggerDwellComplete)
	assert.Equal(t, StateAnchored, m.State())

	m.Fire(TriggerAnchorLost)
	assert.Equal(t, StateNearCharger, m.State())
}

func TestActivationGuardRejectsConcurrentAttempt(t *testing.T) {
	m := NewMachine()
	m.Fire(TriggerEnteredIntentZone)
	m.Fire(TriggerDwellComplete)

	require.NoError(t, m.BeginActivation())
	err := m.BeginActivation()
	assert.ErrorIs(t, err, ErrActivationPending)

	m.CompleteActivation(testInfo())
	assert.Equal(t, StateSessionActive, m.State())
}

func TestActivationRequiresAnchored(t *testing.T) {
	m := NewMachine()
	assert.ErrorIs(t, m.BeginActivation(), ErrNotAnchored)

	m.Fire(TriggerEnteredIntentZone)
	assert.ErrorIs(t, m.BeginActivation(), ErrNotAnchored)
}

func TestActivationRejectedReturnsToNearCharger(t *testing.T) {
	m := NewMachine()
	m.Fire(TriggerEnteredIntentZone)
	m.Fire(TriggerDwellComplete)

	require.NoError(t, m.BeginActivation())
	tr := m.AbortActivation()
	assert.True(t, tr.Applied)
	assert.Equal(t, StateNearCharger, m.State())

	// Slot released: a new attempt is possible after re-anchoring.
	m.Fire(TriggerDwellComplete)
	assert.NoError(t, m.BeginActivation())
}

func TestCompleteActivationAfterAnchorLostIsDiscarded(t *testing.T) {
	m := NewMachine()
	m.Fire(TriggerEnteredIntentZone)
	m.Fire(TriggerDwellComplete)
	require.NoError(t, m.BeginActivation())

	// Anchor lost while backend call in flight.
	m.Fire(TriggerAnchorLost)

	tr := m.CompleteActivation(testInfo())
	assert.False(t, tr.Applied)
	assert.Equal(t, StateNearCharger, m.State())
	_, ok := m.Active()
	assert.False(t, ok)
}

func TestFireRejectsRawActivationTrigger(t *testing.T) {
	m := NewMachine()
	m.Fire(TriggerEnteredIntentZone)
	m.Fire(TriggerDwellComplete)

	tr := m.Fire(TriggerActivationAccepted)
	assert.False(t, tr.Applied)
	assert.Equal(t, StateAnchored, m.State())
}

func TestVisitVerifiedIsIdempotentSelfTransition(t *testing.T) {
	m := activated(t)
	m.Fire(TriggerDepartedCharger)
	m.Fire(TriggerEnteredMerchantZone)

	for i := 0; i < 3; i++ {
		tr := m.Fire(TriggerVisitVerified)
		assert.True(t, tr.Applied)
		assert.False(t, tr.Changed)
		assert.Equal(t, StateAtMerchant, m.State())
	}
}

func TestGraceExpiryEndsInTransitSession(t *testing.T) {
	m := activated(t)
	m.Fire(TriggerDepartedCharger)

	tr := m.Fire(TriggerGraceExpired)
	assert.True(t, tr.Changed)
	assert.Equal(t, StateSessionEnded, m.State())
	_, ok := m.Active()
	assert.False(t, ok)
}

func TestRestoreReentersActiveState(t *testing.T) {
	m := NewMachine()
	tr := m.Restore(StateInTransit, testInfo())
	assert.True(t, tr.Applied)
	assert.Equal(t, StateInTransit, m.State())

	info, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, "sess-1", info.SessionID)
}

func TestRestoreIgnoresNonActiveStates(t *testing.T) {
	m := NewMachine()
	tr := m.Restore(StateAnchored, testInfo())
	assert.False(t, tr.Applied)
	assert.Equal(t, StateIdle, m.State())
}

func TestResetReturnsToIdle(t *testing.T) {
	m := activated(t)
	m.Reset()
	assert.Equal(t, StateIdle, m.State())
	_, ok := m.Active()
	assert.False(t, ok)
}

func TestEventNameRouting(t *testing.T) {
	assert.False(t, EventChargerZoneEntered.RequiresSession())
	assert.False(t, EventAnchorDwellComplete.RequiresSession())
	assert.True(t, EventSessionActivated.RequiresSession())
	assert.True(t, EventVisitVerified.RequiresSession())
	assert.True(t, EventChargerTargeted.Known())
	assert.False(t, EventName("bogus").Known())
}
