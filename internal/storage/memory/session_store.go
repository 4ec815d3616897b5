package memory

import (
	"context"
	"sort"
	"sync"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu      sync.RWMutex
	current *domain.TradeSession
	history []*domain.TradeSession // append order, oldest first
	seen    map[string]struct{}    // history ids
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{seen: make(map[string]struct{})}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

func copySession(s *domain.TradeSession) *domain.TradeSession {
	c := *s
	c.LuckPath = append([]float64(nil), s.LuckPath...)
	return &c
}

// SaveCurrent upserts the single current-session slot.
func (s *SessionStore) SaveCurrent(_ context.Context, sess *domain.TradeSession) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = copySession(sess)
	return nil
}

// LoadCurrent retrieves the current session. Returns ErrNotFound when empty.
func (s *SessionStore) LoadCurrent(_ context.Context) (*domain.TradeSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, storage.ErrNotFound
	}
	return copySession(s.current), nil
}

// ClearCurrent empties the current-session slot.
func (s *SessionStore) ClearCurrent(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	return nil
}

// AppendHistory adds a settled session. Returns ErrDuplicateKey if the
// session id was already appended.
func (s *SessionStore) AppendHistory(_ context.Context, sess *domain.TradeSession) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[sess.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.seen[sess.ID] = struct{}{}
	s.history = append(s.history, copySession(sess))
	return nil
}

// History retrieves settled sessions newest first.
func (s *SessionStore) History(_ context.Context, limit int) ([]*domain.TradeSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TradeSession, 0, len(s.history))
	for _, h := range s.history {
		result = append(result, copySession(h))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt > result[j].StartedAt
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountByDate returns how many history entries carry the given date bucket.
func (s *SessionStore) CountByDate(_ context.Context, date string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, h := range s.history {
		if h.Date == date {
			count++
		}
	}
	return count, nil
}

// PruneHistory drops the oldest entries so at most keep remain.
func (s *SessionStore) PruneHistory(_ context.Context, keep int) error {
	if keep < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) <= keep {
		return nil
	}

	sort.SliceStable(s.history, func(i, j int) bool {
		return s.history[i].StartedAt < s.history[j].StartedAt
	})
	dropped := s.history[:len(s.history)-keep]
	for _, h := range dropped {
		delete(s.seen, h.ID)
	}
	s.history = append([]*domain.TradeSession(nil), s.history[len(s.history)-keep:]...)
	return nil
}
