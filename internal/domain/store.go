package domain

import (
	"context"
	"time"
)

// StateStore is the two-tier persistence contract for position records.
// Reads consult the cache tier first and fall back to the durable tier;
// writes go through to both in the same call.
type StateStore interface {
	// GetOrCreate returns the record for (symbol, direction). With an empty
	// positionID it returns or creates the single PENDING placeholder; with
	// a known positionID it addresses the OPEN record specifically.
	GetOrCreate(ctx context.Context, symbol string, direction Direction, positionID string) (PositionRecord, error)
	// Get returns the record without creating a placeholder on miss; a miss
	// is reported as ErrNotFound.
	Get(ctx context.Context, symbol string, direction Direction) (PositionRecord, error)
	Update(ctx context.Context, symbol string, direction Direction, positionID string, rec PositionRecord) error
	Delete(ctx context.Context, symbol string, direction Direction, positionID string) error
	// ListOpen returns every locally stored OPEN record, for reconciliation.
	ListOpen(ctx context.Context) ([]PositionRecord, error)
}

// PositionStateStore is the durable tier behind StateStore.
type PositionStateStore interface {
	Get(ctx context.Context, symbol string, direction Direction) (PositionRecord, error)
	Upsert(ctx context.Context, rec PositionRecord) error
	Delete(ctx context.Context, symbol string, direction Direction) error
	ListOpen(ctx context.Context) ([]PositionRecord, error)
}

// StateCache is the low-latency tier behind StateStore.
type StateCache interface {
	Get(ctx context.Context, symbol string, direction Direction) (PositionRecord, error)
	Set(ctx context.Context, rec PositionRecord) error
	Delete(ctx context.Context, symbol string, direction Direction) error
	// Keys lists cached (symbol, direction) pairs, for the admin surface.
	Keys(ctx context.Context) ([]string, error)
}

// PnLRecord is one realized profit or loss row in the loss-tracking table.
type PnLRecord struct {
	Symbol     string
	Direction  Direction
	PositionID string
	Kind       string // "PROFIT" or "LOSS"
	PnL        float64
	ClosedAt   time.Time
}

// PnLStore persists realized P&L and answers the daily loss circuit breaker.
type PnLStore interface {
	Log(ctx context.Context, rec PnLRecord) error
	NetSince(ctx context.Context, since time.Time) (float64, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]PnLRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SignalAudit is one evaluated signal with its conviction inputs and outcome.
type SignalAudit struct {
	ID         string
	Symbol     string
	Direction  Direction
	EntryPrice float64
	Interval   string
	Reason     string
	Score      float64
	Executed   bool
	SignalTime time.Time
}

// SignalAuditStore records every evaluated signal, executed or not.
type SignalAuditStore interface {
	Log(ctx context.Context, a SignalAudit) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]SignalAudit, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LossBufferStore accumulates residual losses per (symbol, direction,
// interval) so future entries can be upsized to recover them.
type LossBufferStore interface {
	Get(ctx context.Context, symbol string, direction Direction, interval string) (LossBufferEntry, error)
	// Accumulate adds a loss (qty, negative pnl) to the entry, creating it
	// if absent.
	Accumulate(ctx context.Context, symbol string, direction Direction, interval string, qty, pnl float64) error
	// Offset consumes buffered loss with a realized profit. The entry is
	// deleted once the profit covers it; any remainder is ignored, never
	// leaving a negative buffer.
	Offset(ctx context.Context, symbol string, direction Direction, profit float64) error
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, symbol string, direction Direction, interval string) error
}

// LockManager serializes signal admission per (symbol, direction). Acquire
// is atomic set-if-absent with expiry. Implementations must fail open: if
// the lock backend itself is unreachable the signal is accepted rather than
// silently dropped during an infra outage.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalLimiter bounds how many signals per timeframe window are accepted
// for one (symbol, direction).
type SignalLimiter interface {
	Allow(ctx context.Context, symbol string, direction Direction, interval string) (bool, error)
}
