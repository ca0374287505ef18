// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/chargelink/sessiond/internal/log"
)

var sessionKey = []byte("session:current")

// BadgerStore is the default on-device session store.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the store at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Save(_ context.Context, snap PersistedSession) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey, buf)
	})
}

func (s *BadgerStore) Load(_ context.Context) (PersistedSession, bool, error) {
	var snap PersistedSession
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return PersistedSession{}, false, nil
	case err != nil:
		// A corrupt snapshot must not block startup; treat as absent.
		var jsonErr *json.SyntaxError
		if errors.As(err, &jsonErr) {
			lg := log.WithComponent("store")
			lg.Warn().Err(err).Msg("discarding corrupt session snapshot")
			return PersistedSession{}, false, nil
		}
		return PersistedSession{}, false, err
	}
	return snap, true, nil
}

func (s *BadgerStore) Clear(_ context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey)
	})
}

func (s *BadgerStore) Close() error { return s.db.Close() }
