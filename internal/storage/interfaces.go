// Package storage defines the persistence interfaces for sessions,
// crown inventory, and luck timeseries. Implementations live in the
// memory, postgres, and clickhouse subpackages.
package storage

import (
	"context"

	"perp-ritual-lab/internal/domain"
)

// SessionStore provides access to the current session slot and the
// settled-session history.
type SessionStore interface {
	// SaveCurrent upserts the single current-session slot.
	SaveCurrent(ctx context.Context, s *domain.TradeSession) error

	// LoadCurrent retrieves the current session. Returns ErrNotFound when
	// the slot is empty.
	LoadCurrent(ctx context.Context) (*domain.TradeSession, error)

	// ClearCurrent empties the current-session slot. Clearing an already
	// empty slot is not an error.
	ClearCurrent(ctx context.Context) error

	// AppendHistory adds a settled session to the history. Returns
	// ErrDuplicateKey if the session id was already appended.
	AppendHistory(ctx context.Context, s *domain.TradeSession) error

	// History retrieves settled sessions newest first, at most limit
	// entries; limit <= 0 means no limit.
	History(ctx context.Context, limit int) ([]*domain.TradeSession, error)

	// CountByDate returns how many history entries carry the given
	// YYYY-MM-DD date bucket.
	CountByDate(ctx context.Context, date string) (int, error)

	// PruneHistory drops the oldest entries so at most keep remain.
	PruneHistory(ctx context.Context, keep int) error
}

// CrownStore provides access to the crown inventory and award events.
type CrownStore interface {
	// Inventory retrieves the current inventory. An empty store yields a
	// zeroed inventory, not ErrNotFound.
	Inventory(ctx context.Context) (domain.CrownInventory, error)

	// SaveInventory replaces the stored inventory.
	SaveInventory(ctx context.Context, inv domain.CrownInventory) error

	// SaveEvent appends an award event.
	SaveEvent(ctx context.Context, e *domain.CrownEvent) error

	// LastEvent retrieves the most recent award event. Returns
	// ErrNotFound when no event was recorded yet.
	LastEvent(ctx context.Context) (*domain.CrownEvent, error)
}

// LuckTimeseriesStore provides access to luck_timeseries storage.
type LuckTimeseriesStore interface {
	// InsertBulk adds multiple points. Fails the entire batch on a
	// duplicate (session_id, timestamp_ms).
	InsertBulk(ctx context.Context, points []*domain.LuckPoint) error

	// BySession retrieves all points for a session, ordered by
	// timestamp ASC.
	BySession(ctx context.Context, sessionID string) ([]*domain.LuckPoint, error)
}
