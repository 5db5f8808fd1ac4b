package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

// PositionStateStore implements domain.PositionStateStore using PostgreSQL.
// The ladder fields (tps, qty_distribution, tp_orders) are stored as JSONB.
type PositionStateStore struct {
	pool *pgxpool.Pool
}

// NewPositionStateStore creates a store backed by the given connection pool.
func NewPositionStateStore(pool *pgxpool.Pool) *PositionStateStore {
	return &PositionStateStore{pool: pool}
}

const positionStateCols = `symbol, direction, position_id, status,
	entry_price, total_qty, step, tps, stop_loss, qty_distribution,
	tp_orders, sl_order_id, timeframe, created_at`

func scanPositionState(row pgx.Row) (domain.PositionRecord, error) {
	var (
		rec               domain.PositionRecord
		direction, status string
		tps, dist, orders []byte
	)

	err := row.Scan(
		&rec.Symbol, &direction, &rec.PositionID, &status,
		&rec.EntryPrice, &rec.TotalQty, &rec.Step, &tps, &rec.StopLoss, &dist,
		&orders, &rec.SLOrderID, &rec.Interval, &rec.CreatedAt,
	)
	if err != nil {
		return domain.PositionRecord{}, err
	}

	rec.Direction = domain.Direction(direction)
	rec.Status = domain.PositionStatus(status)
	if err := json.Unmarshal(tps, &rec.TPs); err != nil {
		return domain.PositionRecord{}, fmt.Errorf("decode tps: %w", err)
	}
	if err := json.Unmarshal(dist, &rec.QtyDistribution); err != nil {
		return domain.PositionRecord{}, fmt.Errorf("decode qty_distribution: %w", err)
	}
	if err := json.Unmarshal(orders, &rec.TPOrders); err != nil {
		return domain.PositionRecord{}, fmt.Errorf("decode tp_orders: %w", err)
	}
	return rec, nil
}

// Get returns the record for (symbol, direction), or domain.ErrNotFound.
func (s *PositionStateStore) Get(ctx context.Context, symbol string, direction domain.Direction) (domain.PositionRecord, error) {
	query := `SELECT ` + positionStateCols + `
		FROM position_state WHERE symbol = $1 AND direction = $2`

	rec, err := scanPositionState(s.pool.QueryRow(ctx, query, symbol, string(direction)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PositionRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PositionRecord{}, fmt.Errorf("postgres: get position state %s %s: %w", symbol, direction, err)
	}
	return rec, nil
}

// Upsert inserts or replaces the record for its (symbol, direction).
func (s *PositionStateStore) Upsert(ctx context.Context, rec domain.PositionRecord) error {
	tps, err := json.Marshal(rec.TPs)
	if err != nil {
		return fmt.Errorf("postgres: encode tps: %w", err)
	}
	dist, err := json.Marshal(rec.QtyDistribution)
	if err != nil {
		return fmt.Errorf("postgres: encode qty_distribution: %w", err)
	}
	orders, err := json.Marshal(rec.TPOrders)
	if err != nil {
		return fmt.Errorf("postgres: encode tp_orders: %w", err)
	}

	const query = `
		INSERT INTO position_state (
			symbol, direction, position_id, status,
			entry_price, total_qty, step, tps, stop_loss, qty_distribution,
			tp_orders, sl_order_id, timeframe, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, NOW()
		)
		ON CONFLICT (symbol, direction) DO UPDATE SET
			position_id = EXCLUDED.position_id,
			status = EXCLUDED.status,
			entry_price = EXCLUDED.entry_price,
			total_qty = EXCLUDED.total_qty,
			step = EXCLUDED.step,
			tps = EXCLUDED.tps,
			stop_loss = EXCLUDED.stop_loss,
			qty_distribution = EXCLUDED.qty_distribution,
			tp_orders = EXCLUDED.tp_orders,
			sl_order_id = EXCLUDED.sl_order_id,
			timeframe = EXCLUDED.timeframe,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		rec.Symbol, string(rec.Direction), rec.PositionID, string(rec.Status),
		rec.EntryPrice, rec.TotalQty, rec.Step, tps, rec.StopLoss, dist,
		orders, rec.SLOrderID, rec.Interval, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position state %s %s: %w", rec.Symbol, rec.Direction, err)
	}
	return nil
}

// Delete removes the record. Deleting an absent row is not an error.
func (s *PositionStateStore) Delete(ctx context.Context, symbol string, direction domain.Direction) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM position_state WHERE symbol = $1 AND direction = $2`,
		symbol, string(direction),
	)
	if err != nil {
		return fmt.Errorf("postgres: delete position state %s %s: %w", symbol, direction, err)
	}
	return nil
}

// ListOpen returns every OPEN record, for reconciliation.
func (s *PositionStateStore) ListOpen(ctx context.Context) ([]domain.PositionRecord, error) {
	query := `SELECT ` + positionStateCols + `
		FROM position_state WHERE status = $1 ORDER BY symbol, direction`

	rows, err := s.pool.Query(ctx, query, string(domain.PositionStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var recs []domain.PositionRecord
	for rows.Next() {
		rec, err := scanPositionState(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

var _ domain.PositionStateStore = (*PositionStateStore)(nil)
