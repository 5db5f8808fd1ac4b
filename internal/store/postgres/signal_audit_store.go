package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

// SignalAuditStore implements domain.SignalAuditStore on the signal_audit
// table.
type SignalAuditStore struct {
	pool *pgxpool.Pool
}

// NewSignalAuditStore creates a store backed by the given connection pool.
func NewSignalAuditStore(pool *pgxpool.Pool) *SignalAuditStore {
	return &SignalAuditStore{pool: pool}
}

// Log inserts one evaluated signal.
func (s *SignalAuditStore) Log(ctx context.Context, a domain.SignalAudit) error {
	const query = `
		INSERT INTO signal_audit (id, symbol, direction, entry_price, timeframe, reason, score, executed, signal_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	signalTime := a.SignalTime
	if signalTime.IsZero() {
		signalTime = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		id, a.Symbol, string(a.Direction), a.EntryPrice, a.Interval,
		a.Reason, a.Score, a.Executed, signalTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: log signal audit %s %s: %w", a.Symbol, a.Direction, err)
	}
	return nil
}

// ListBefore returns audits older than cutoff, oldest first, for archival.
func (s *SignalAuditStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SignalAudit, error) {
	const query = `
		SELECT id, symbol, direction, entry_price, timeframe, reason, score, executed, signal_time
		FROM signal_audit WHERE signal_time < $1
		ORDER BY signal_time ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signal audits before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var audits []domain.SignalAudit
	for rows.Next() {
		var (
			a         domain.SignalAudit
			direction string
		)
		if err := rows.Scan(&a.ID, &a.Symbol, &direction, &a.EntryPrice, &a.Interval,
			&a.Reason, &a.Score, &a.Executed, &a.SignalTime); err != nil {
			return nil, fmt.Errorf("postgres: scan signal audit: %w", err)
		}
		a.Direction = domain.Direction(direction)
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// DeleteBefore removes audits older than cutoff, returning the count.
func (s *SignalAuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM signal_audit WHERE signal_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete signal audits before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.SignalAuditStore = (*SignalAuditStore)(nil)
