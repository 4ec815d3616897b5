package memory

import (
	"context"
	"sync"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/storage"
)

// CrownStore is an in-memory implementation of storage.CrownStore.
type CrownStore struct {
	mu     sync.RWMutex
	inv    domain.CrownInventory
	events []*domain.CrownEvent
}

// NewCrownStore creates a new in-memory crown store.
func NewCrownStore() *CrownStore {
	return &CrownStore{inv: domain.NewCrownInventory()}
}

// Compile-time interface check.
var _ storage.CrownStore = (*CrownStore)(nil)

// Inventory retrieves the current inventory.
func (s *CrownStore) Inventory(_ context.Context) (domain.CrownInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inv.Clone(), nil
}

// SaveInventory replaces the stored inventory.
func (s *CrownStore) SaveInventory(_ context.Context, inv domain.CrownInventory) error {
	if inv == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inv = inv.Clone()
	return nil
}

// SaveEvent appends an award event.
func (s *CrownStore) SaveEvent(_ context.Context, e *domain.CrownEvent) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *e
	c.Upgrades = append([]domain.CrownTierID(nil), e.Upgrades...)
	s.events = append(s.events, &c)
	return nil
}

// LastEvent retrieves the most recent award event.
func (s *CrownStore) LastEvent(_ context.Context) (*domain.CrownEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) == 0 {
		return nil, storage.ErrNotFound
	}
	e := *s.events[len(s.events)-1]
	e.Upgrades = append([]domain.CrownTierID(nil), e.Upgrades...)
	return &e, nil
}
