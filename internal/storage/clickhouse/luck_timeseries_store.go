package clickhouse

import (
	"context"
	"fmt"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/storage"
)

// LuckTimeseriesStore implements storage.LuckTimeseriesStore using
// ClickHouse. MergeTree does not enforce uniqueness, so duplicates are
// detected with explicit existence checks before the batch insert.
type LuckTimeseriesStore struct {
	conn *Conn
}

// NewLuckTimeseriesStore creates a new LuckTimeseriesStore.
func NewLuckTimeseriesStore(conn *Conn) *LuckTimeseriesStore {
	return &LuckTimeseriesStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LuckTimeseriesStore = (*LuckTimeseriesStore)(nil)

// InsertBulk adds multiple points. Fails the entire batch on a
// duplicate (session_id, timestamp_ms).
func (s *LuckTimeseriesStore) InsertBulk(ctx context.Context, points []*domain.LuckPoint) error {
	if len(points) == 0 {
		return nil
	}

	type key struct {
		sessionID   string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.SessionID == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.SessionID, p.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, p := range points {
		exists, err := s.exists(ctx, p.SessionID, p.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO luck_timeseries (session_id, timestamp_ms, price, luck)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(p.SessionID, uint64(p.TimestampMs), p.Price, p.Luck); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// BySession retrieves all points for a session, ordered by timestamp ASC.
func (s *LuckTimeseriesStore) BySession(ctx context.Context, sessionID string) ([]*domain.LuckPoint, error) {
	query := `
		SELECT session_id, timestamp_ms, price, luck
		FROM luck_timeseries
		WHERE session_id = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query by session id: %w", err)
	}
	defer rows.Close()

	var points []*domain.LuckPoint
	for rows.Next() {
		var p domain.LuckPoint
		var timestampMs uint64

		if err := rows.Scan(&p.SessionID, &timestampMs, &p.Price, &p.Luck); err != nil {
			return nil, fmt.Errorf("scan luck timeseries row: %w", err)
		}
		p.TimestampMs = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate luck timeseries rows: %w", err)
	}
	return points, nil
}

// exists checks if a point with the given key exists.
func (s *LuckTimeseriesStore) exists(ctx context.Context, sessionID string, timestampMs int64) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM luck_timeseries
		WHERE session_id = ? AND timestamp_ms = ?
	`, sessionID, uint64(timestampMs)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
