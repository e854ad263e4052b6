// Package memory keeps the watcher state in process memory for tests of the
// watch loop.
package memory

import (
	"context"
	"sync"
)

// StateStore holds the last fingerprint in memory.
type StateStore struct {
	mu    sync.RWMutex
	value string
	set   bool
	saves int
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{}
}

// NewStateStoreWith creates a store that already holds fingerprint.
func NewStateStoreWith(fingerprint string) *StateStore {
	return &StateStore{value: fingerprint, set: true}
}

// Load returns the stored fingerprint, if any.
func (s *StateStore) Load(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.set, nil
}

// Save replaces the stored fingerprint.
func (s *StateStore) Save(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = fingerprint
	s.set = true
	s.saves++
	return nil
}

// Saves reports how many times Save was called.
func (s *StateStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
