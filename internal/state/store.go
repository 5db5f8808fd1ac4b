// Package state combines the Redis cache tier and the PostgreSQL durable
// tier into the position state store the rest of the engine works against.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

// Store implements domain.StateStore over a cache tier and a durable tier.
//
// Reads hit the cache first and fall back to the durable tier, repopulating
// the cache on the way out. Writes go to both tiers in the same call; a
// durable-tier failure is logged and tolerated, since the reconciliation
// sweep rebuilds durable rows from exchange truth, while a cache failure is
// fatal to the operation because the hot path depends on it.
type Store struct {
	cache   domain.StateCache
	durable domain.PositionStateStore
	logger  *slog.Logger
}

// New creates a two-tier Store.
func New(cache domain.StateCache, durable domain.PositionStateStore, logger *slog.Logger) *Store {
	return &Store{
		cache:   cache,
		durable: durable,
		logger:  logger.With("component", "state_store"),
	}
}

// Get returns the record for (symbol, direction), or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, symbol string, direction domain.Direction) (domain.PositionRecord, error) {
	rec, err := s.cache.Get(ctx, symbol, direction)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("cache read failed, falling back to durable tier",
			"symbol", symbol, "direction", direction, "error", err)
	}

	rec, err = s.durable.Get(ctx, symbol, direction)
	if err != nil {
		return domain.PositionRecord{}, err
	}

	if cacheErr := s.cache.Set(ctx, rec); cacheErr != nil {
		s.logger.Warn("cache repopulate failed",
			"symbol", symbol, "direction", direction, "error", cacheErr)
	}
	return rec, nil
}

// GetOrCreate returns the record for (symbol, direction), creating and
// persisting a PENDING placeholder when none exists. A non-empty positionID
// is stamped onto a placeholder that has not met its exchange position yet.
func (s *Store) GetOrCreate(ctx context.Context, symbol string, direction domain.Direction, positionID string) (domain.PositionRecord, error) {
	rec, err := s.Get(ctx, symbol, direction)
	if err == nil {
		if positionID != "" && rec.PositionID == "" {
			rec.PositionID = positionID
			if err := s.Update(ctx, symbol, direction, positionID, rec); err != nil {
				return domain.PositionRecord{}, err
			}
		}
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.PositionRecord{}, err
	}

	rec = domain.NewPendingRecord(symbol, direction)
	rec.PositionID = positionID
	if err := s.Update(ctx, symbol, direction, positionID, rec); err != nil {
		return domain.PositionRecord{}, err
	}
	return rec, nil
}

// Update writes the record through both tiers.
func (s *Store) Update(ctx context.Context, symbol string, direction domain.Direction, positionID string, rec domain.PositionRecord) error {
	rec.Symbol = symbol
	rec.Direction = direction
	if positionID != "" {
		rec.PositionID = positionID
	}

	if err := s.cache.Set(ctx, rec); err != nil {
		return fmt.Errorf("state: cache write %s %s: %w", symbol, direction, err)
	}
	if err := s.durable.Upsert(ctx, rec); err != nil {
		s.logger.Error("durable write failed, cache tier carries the record",
			"symbol", symbol, "direction", direction, "error", err)
	}
	return nil
}

// Delete removes the record from both tiers.
func (s *Store) Delete(ctx context.Context, symbol string, direction domain.Direction, positionID string) error {
	if err := s.cache.Delete(ctx, symbol, direction); err != nil {
		return fmt.Errorf("state: cache delete %s %s: %w", symbol, direction, err)
	}
	if err := s.durable.Delete(ctx, symbol, direction); err != nil {
		s.logger.Error("durable delete failed",
			"symbol", symbol, "direction", direction, "error", err)
	}
	return nil
}

// ListOpen returns every OPEN record from the durable tier.
func (s *Store) ListOpen(ctx context.Context) ([]domain.PositionRecord, error) {
	return s.durable.ListOpen(ctx)
}

var _ domain.StateStore = (*Store)(nil)
