// SPDX-License-Identifier: MIT

// Package store persists journey state across process relaunches. The engine
// writes a snapshot on every transition into or out of an active state and
// restores it on launch via the session_restored trigger.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/chargelink/sessiond/internal/session"
)

// PersistedSession is the restart snapshot. Targets travel with the session
// so geofencing can resume without the embedded content re-sending them.
type PersistedSession struct {
	State    session.State             `json:"state"`
	Info     session.ActiveSessionInfo `json:"info"`
	Charger  session.Target            `json:"charger"`
	Merchant session.Target            `json:"merchant"`
	SavedAt  time.Time                 `json:"saved_at"`
}

// SessionStore is the persistence boundary handed to the engine at
// construction.
type SessionStore interface {
	Save(ctx context.Context, snap PersistedSession) error
	// Load returns the snapshot and whether one exists.
	Load(ctx context.Context) (PersistedSession, bool, error)
	Clear(ctx context.Context) error
	Close() error
}

// MemoryStore keeps the snapshot in process memory. Used in tests and as the
// fallback when no data dir is configured.
type MemoryStore struct {
	mu   sync.Mutex
	snap *PersistedSession
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, snap PersistedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := snap
	s.snap = &cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (PersistedSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return PersistedSession{}, false, nil
	}
	return *s.snap, true, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
