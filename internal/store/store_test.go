// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargelink/sessiond/internal/session"
)

func testSnapshot() PersistedSession {
	return PersistedSession{
		State: session.StateInTransit,
		Info: session.ActiveSessionInfo{
			SessionID:  "sess-1",
			ChargerID:  "chg-7",
			MerchantID: "mrc-3",
			StartedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		},
		Charger:  session.Target{ID: "chg-7", Lat: 48.2, Lng: 16.37},
		Merchant: session.Target{ID: "mrc-3", Lat: 48.21, Lng: 16.38},
		SavedAt:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func roundTrip(t *testing.T, s SessionStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store must be empty")

	require.NoError(t, s.Save(ctx, testSnapshot()))

	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StateInTransit, got.State)
	assert.Equal(t, "sess-1", got.Info.SessionID)
	assert.Equal(t, "chg-7", got.Charger.ID)

	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	roundTrip(t, s)
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	s, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	roundTrip(t, s)
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, testSnapshot()))
	require.NoError(t, s.Close())

	s2, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	got, ok, err := s2.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sess-1", got.Info.SessionID)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	roundTrip(t, s)
}

func TestRedisStoreCorruptSnapshotTreatedAsAbsent(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, mr.Set("sessiond:session:current", "{broken"))

	_, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
