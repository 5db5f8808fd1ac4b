package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

const stateKeyPrefix = "position_state:"

// StateCache implements domain.StateCache. Records live as JSON blobs under
// position_state:{symbol}:{direction} with no expiry; lifecycle transitions
// delete them explicitly.
type StateCache struct {
	rdb *redis.Client
}

// NewStateCache creates a StateCache backed by the given Client.
func NewStateCache(c *Client) *StateCache {
	return &StateCache{rdb: c.Underlying()}
}

func stateKey(symbol string, direction domain.Direction) string {
	return stateKeyPrefix + symbol + ":" + string(direction)
}

// Get returns the cached record, or domain.ErrNotFound on a miss.
func (sc *StateCache) Get(ctx context.Context, symbol string, direction domain.Direction) (domain.PositionRecord, error) {
	data, err := sc.rdb.Get(ctx, stateKey(symbol, direction)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PositionRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PositionRecord{}, fmt.Errorf("redis: get state %s %s: %w", symbol, direction, err)
	}

	var rec domain.PositionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.PositionRecord{}, fmt.Errorf("redis: decode state %s %s: %w", symbol, direction, err)
	}
	return rec, nil
}

// Set writes the record under its (symbol, direction) key.
func (sc *StateCache) Set(ctx context.Context, rec domain.PositionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: encode state %s %s: %w", rec.Symbol, rec.Direction, err)
	}
	if err := sc.rdb.Set(ctx, stateKey(rec.Symbol, rec.Direction), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set state %s %s: %w", rec.Symbol, rec.Direction, err)
	}
	return nil
}

// Delete removes the record. Deleting an absent key is not an error.
func (sc *StateCache) Delete(ctx context.Context, symbol string, direction domain.Direction) error {
	if err := sc.rdb.Del(ctx, stateKey(symbol, direction)).Err(); err != nil {
		return fmt.Errorf("redis: delete state %s %s: %w", symbol, direction, err)
	}
	return nil
}

// Keys lists every cached position-state key.
func (sc *StateCache) Keys(ctx context.Context) ([]string, error) {
	return scanKeys(ctx, sc.rdb, stateKeyPrefix+"*")
}

var _ domain.StateCache = (*StateCache)(nil)
