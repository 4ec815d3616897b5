package memory

import (
	"context"
	"sort"
	"sync"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/storage"
)

// LuckTimeseriesStore is an in-memory implementation of
// storage.LuckTimeseriesStore.
type LuckTimeseriesStore struct {
	mu   sync.RWMutex
	data map[luckKey]*domain.LuckPoint
}

type luckKey struct {
	sessionID   string
	timestampMs int64
}

// NewLuckTimeseriesStore creates a new in-memory luck timeseries store.
func NewLuckTimeseriesStore() *LuckTimeseriesStore {
	return &LuckTimeseriesStore{data: make(map[luckKey]*domain.LuckPoint)}
}

// Compile-time interface check.
var _ storage.LuckTimeseriesStore = (*LuckTimeseriesStore)(nil)

// InsertBulk adds multiple points. Fails the entire batch on a duplicate
// (session_id, timestamp_ms), existing or intra-batch.
func (s *LuckTimeseriesStore) InsertBulk(_ context.Context, points []*domain.LuckPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[luckKey]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.SessionID == "" {
			return storage.ErrInvalidInput
		}
		k := luckKey{p.SessionID, p.TimestampMs}
		if _, exists := s.data[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}
	}

	for _, p := range points {
		c := *p
		s.data[luckKey{p.SessionID, p.TimestampMs}] = &c
	}
	return nil
}

// BySession retrieves all points for a session, ordered by timestamp ASC.
func (s *LuckTimeseriesStore) BySession(_ context.Context, sessionID string) ([]*domain.LuckPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LuckPoint
	for k, p := range s.data {
		if k.sessionID == sessionID {
			c := *p
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}
