// SPDX-License-Identifier: MIT

// Package tokenstore holds the bearer credential consulted before every
// outbound backend call. The store itself is an external collaborator; only
// the contract and two minimal implementations live here.
package tokenstore

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// ErrNoToken is returned when no credential has been stored yet.
var ErrNoToken = errors.New("tokenstore: no token stored")

// Store reads and writes the bearer credential.
type Store interface {
	Token() (string, error)
	SetToken(token string) error
	ClearToken() error
}

// MemoryStore keeps the token in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

func (s *MemoryStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// FileStore persists the token at a fixed path with 0600 permissions. Writes
// are atomic so a crash can never leave a truncated credential behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func (s *FileStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renameio.WriteFile(s.path, []byte(token), 0o600)
}

func (s *FileStore) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
