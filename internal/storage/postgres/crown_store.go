package postgres

import (
	"context"
	"fmt"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/storage"
)

// CrownStore implements storage.CrownStore using PostgreSQL. The
// inventory is one row per tier; award events append to crown_events.
type CrownStore struct {
	pool *Pool
}

// NewCrownStore creates a new CrownStore.
func NewCrownStore(pool *Pool) *CrownStore {
	return &CrownStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CrownStore = (*CrownStore)(nil)

// Inventory retrieves the current inventory. Tiers with no row read as
// zero, so an empty table yields a zeroed inventory.
func (s *CrownStore) Inventory(ctx context.Context) (domain.CrownInventory, error) {
	rows, err := s.pool.Query(ctx, `SELECT tier, units FROM crown_inventory`)
	if err != nil {
		return nil, fmt.Errorf("query crown inventory: %w", err)
	}
	defer rows.Close()

	inv := domain.NewCrownInventory()
	for rows.Next() {
		var tier string
		var units int
		if err := rows.Scan(&tier, &units); err != nil {
			return nil, fmt.Errorf("scan crown inventory row: %w", err)
		}
		inv[domain.CrownTierID(tier)] = units
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crown inventory rows: %w", err)
	}
	return inv, nil
}

// SaveInventory replaces the stored inventory atomically.
func (s *CrownStore) SaveInventory(ctx context.Context, inv domain.CrownInventory) error {
	if inv == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO crown_inventory (tier, units) VALUES ($1, $2)
		ON CONFLICT (tier) DO UPDATE SET units = EXCLUDED.units
	`
	for tier, units := range inv {
		if _, err := tx.Exec(ctx, query, string(tier), units); err != nil {
			return fmt.Errorf("upsert crown inventory tier %s: %w", tier, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SaveEvent appends an award event.
func (s *CrownStore) SaveEvent(ctx context.Context, e *domain.CrownEvent) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	upgrades := make([]string, 0, len(e.Upgrades))
	for _, u := range e.Upgrades {
		upgrades = append(upgrades, string(u))
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO crown_events (awarded_tier, awarded_count, upgrades, created_at)
		VALUES ($1, $2, $3, $4)
	`, string(e.AwardedTierID), e.AwardedCount, upgrades, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert crown event: %w", err)
	}
	return nil
}

// LastEvent retrieves the most recent award event.
func (s *CrownStore) LastEvent(ctx context.Context) (*domain.CrownEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT awarded_tier, awarded_count, upgrades, created_at
		FROM crown_events
		ORDER BY event_id DESC
		LIMIT 1
	`)

	var e domain.CrownEvent
	var tier string
	var upgrades []string
	if err := row.Scan(&tier, &e.AwardedCount, &upgrades, &e.CreatedAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get last crown event: %w", err)
	}

	e.AwardedTierID = domain.CrownTierID(tier)
	e.Upgrades = make([]domain.CrownTierID, 0, len(upgrades))
	for _, u := range upgrades {
		e.Upgrades = append(e.Upgrades, domain.CrownTierID(u))
	}
	return &e, nil
}
