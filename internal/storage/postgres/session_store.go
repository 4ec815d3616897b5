package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/storage"
)

// SessionStore implements storage.SessionStore using PostgreSQL. The
// current session lives in a single-row slot table; settled sessions
// accumulate in session_history.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

const sessionColumns = `
	session_id, session_date, side, margin_usd, leverage, tp_multiple,
	target_profit_usd, entry_price, liq_price, target_price,
	current_price, luck_path, order_id, status, started_at, ended_at`

// SaveCurrent upserts the single current-session slot.
func (s *SessionStore) SaveCurrent(ctx context.Context, sess *domain.TradeSession) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO current_session (
			slot,` + sessionColumns + `
		) VALUES (
			1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (slot) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			session_date = EXCLUDED.session_date,
			side = EXCLUDED.side,
			margin_usd = EXCLUDED.margin_usd,
			leverage = EXCLUDED.leverage,
			tp_multiple = EXCLUDED.tp_multiple,
			target_profit_usd = EXCLUDED.target_profit_usd,
			entry_price = EXCLUDED.entry_price,
			liq_price = EXCLUDED.liq_price,
			target_price = EXCLUDED.target_price,
			current_price = EXCLUDED.current_price,
			luck_path = EXCLUDED.luck_path,
			order_id = EXCLUDED.order_id,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at
	`

	_, err := s.pool.Exec(ctx, query, sessionArgs(sess)...)
	if err != nil {
		return fmt.Errorf("save current session: %w", err)
	}
	return nil
}

// LoadCurrent retrieves the current session. Returns ErrNotFound when empty.
func (s *SessionStore) LoadCurrent(ctx context.Context) (*domain.TradeSession, error) {
	query := `SELECT` + sessionColumns + ` FROM current_session WHERE slot = 1`

	row := s.pool.QueryRow(ctx, query)
	sess, err := scanSession(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load current session: %w", err)
	}
	return sess, nil
}

// ClearCurrent empties the current-session slot.
func (s *SessionStore) ClearCurrent(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM current_session WHERE slot = 1`); err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	return nil
}

// AppendHistory adds a settled session. Returns ErrDuplicateKey if the
// session id was already appended.
func (s *SessionStore) AppendHistory(ctx context.Context, sess *domain.TradeSession) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO session_history (` + sessionColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
	`

	_, err := s.pool.Exec(ctx, query, sessionArgs(sess)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append session history: %w", err)
	}
	return nil
}

// History retrieves settled sessions newest first.
func (s *SessionStore) History(ctx context.Context, limit int) ([]*domain.TradeSession, error) {
	query := `
		SELECT` + sessionColumns + `
		FROM session_history
		ORDER BY started_at DESC, session_id DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// CountByDate returns how many history entries carry the given date bucket.
func (s *SessionStore) CountByDate(ctx context.Context, date string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM session_history WHERE session_date = $1`, date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions by date: %w", err)
	}
	return count, nil
}

// PruneHistory drops the oldest entries so at most keep remain.
func (s *SessionStore) PruneHistory(ctx context.Context, keep int) error {
	if keep < 0 {
		return storage.ErrInvalidInput
	}

	query := `
		DELETE FROM session_history
		WHERE session_id NOT IN (
			SELECT session_id FROM session_history
			ORDER BY started_at DESC, session_id DESC
			LIMIT $1
		)
	`
	if _, err := s.pool.Exec(ctx, query, keep); err != nil {
		return fmt.Errorf("prune session history: %w", err)
	}
	return nil
}

func sessionArgs(sess *domain.TradeSession) []any {
	return []any{
		sess.ID, sess.Date, string(sess.Side), sess.MarginUSD, sess.Leverage,
		sess.TPMultiple, sess.TargetProfitUSD, sess.EntryPrice, sess.LiqPrice,
		sess.TargetPrice, sess.CurrentPrice, sess.LuckPath, sess.OrderID,
		string(sess.Status), sess.StartedAt, sess.EndedAt,
	}
}

func scanSession(row pgx.Row) (*domain.TradeSession, error) {
	var sess domain.TradeSession
	var side, status string

	err := row.Scan(
		&sess.ID, &sess.Date, &side, &sess.MarginUSD, &sess.Leverage,
		&sess.TPMultiple, &sess.TargetProfitUSD, &sess.EntryPrice, &sess.LiqPrice,
		&sess.TargetPrice, &sess.CurrentPrice, &sess.LuckPath, &sess.OrderID,
		&status, &sess.StartedAt, &sess.EndedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Side = domain.TradeSide(side)
	sess.Status = domain.SessionStatus(status)
	return &sess, nil
}

func scanSessions(rows pgx.Rows) ([]*domain.TradeSession, error) {
	var sessions []*domain.TradeSession

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}
