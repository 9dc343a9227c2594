// Package selection persists the active organization id across process restarts.
package selection

import (
	"context"
	"errors"
	"sync"
)

// ErrCorrupt is returned by Load when the stored value cannot be parsed.
// Callers treat it like an absent selection.
var ErrCorrupt = errors.New("selection: stored value is corrupt")

// Store holds a single process-wide organization id.
type Store interface {
	// Load returns the stored id, or "" if nothing is stored.
	Load(ctx context.Context) (string, error)
	// Save overwrites the stored id.
	Save(ctx context.Context, orgID string) error
	// Erase removes the stored id. Erasing an empty store is not an error.
	Erase(ctx context.Context) error
}

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	orgID string
	saves int
}

// NewMemoryStore returns an empty MemoryStore, optionally pre-seeded with orgID.
func NewMemoryStore(orgID string) *MemoryStore {
	return &MemoryStore{orgID: orgID}
}

func (s *MemoryStore) Load(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orgID, nil
}

func (s *MemoryStore) Save(ctx context.Context, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgID = orgID
	s.saves++
	return nil
}

func (s *MemoryStore) Erase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgID = ""
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
