package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

// PnLStore implements domain.PnLStore on the loss_tracking table.
type PnLStore struct {
	pool *pgxpool.Pool
}

// NewPnLStore creates a store backed by the given connection pool.
func NewPnLStore(pool *pgxpool.Pool) *PnLStore {
	return &PnLStore{pool: pool}
}

// Log inserts one realized P&L row.
func (s *PnLStore) Log(ctx context.Context, rec domain.PnLRecord) error {
	const query = `
		INSERT INTO loss_tracking (id, symbol, direction, position_id, kind, pnl, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	closedAt := rec.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		uuid.New(), rec.Symbol, string(rec.Direction), rec.PositionID,
		rec.Kind, rec.PnL, closedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: log pnl %s %s: %w", rec.Symbol, rec.Direction, err)
	}
	return nil
}

// NetSince sums realized P&L from the given instant, for the daily loss
// circuit breaker.
func (s *PnLStore) NetSince(ctx context.Context, since time.Time) (float64, error) {
	var net float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM loss_tracking WHERE closed_at >= $1`,
		since,
	).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("postgres: net pnl since %s: %w", since.Format(time.RFC3339), err)
	}
	return net, nil
}

// ListBefore returns rows closed before cutoff, oldest first, for archival.
func (s *PnLStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PnLRecord, error) {
	const query = `
		SELECT symbol, direction, position_id, kind, pnl, closed_at
		FROM loss_tracking WHERE closed_at < $1
		ORDER BY closed_at ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pnl before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var recs []domain.PnLRecord
	for rows.Next() {
		var (
			rec       domain.PnLRecord
			direction string
		)
		if err := rows.Scan(&rec.Symbol, &direction, &rec.PositionID, &rec.Kind, &rec.PnL, &rec.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan pnl row: %w", err)
		}
		rec.Direction = domain.Direction(direction)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteBefore removes rows closed before cutoff, returning the count.
func (s *PnLStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM loss_tracking WHERE closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete pnl before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.PnLStore = (*PnLStore)(nil)
