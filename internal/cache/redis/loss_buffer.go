package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

const lossBufferPrefix = "reverse_loss:"

// LossBufferStore implements domain.LossBufferStore. Entries live as JSON
// blobs under reverse_loss:{symbol}:{direction}:{interval} and are deleted
// once a profit fully offsets them.
type LossBufferStore struct {
	rdb *redis.Client
}

// NewLossBufferStore creates a LossBufferStore backed by the given Client.
func NewLossBufferStore(c *Client) *LossBufferStore {
	return &LossBufferStore{rdb: c.Underlying()}
}

func lossBufferKey(symbol string, direction domain.Direction, interval string) string {
	return lossBufferPrefix + symbol + ":" + string(direction) + ":" + interval
}

// Get returns the buffered entry, or domain.ErrNotFound when nothing is
// buffered for the triple.
func (lb *LossBufferStore) Get(ctx context.Context, symbol string, direction domain.Direction, interval string) (domain.LossBufferEntry, error) {
	data, err := lb.rdb.Get(ctx, lossBufferKey(symbol, direction, interval)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LossBufferEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LossBufferEntry{}, fmt.Errorf("redis: get loss buffer %s %s %s: %w", symbol, direction, interval, err)
	}

	var entry domain.LossBufferEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.LossBufferEntry{}, fmt.Errorf("redis: decode loss buffer: %w", err)
	}
	return entry, nil
}

// Accumulate merges a stop-loss closure into the buffer, creating the entry
// if absent. pnl is expected to be negative.
func (lb *LossBufferStore) Accumulate(ctx context.Context, symbol string, direction domain.Direction, interval string, qty, pnl float64) error {
	entry, err := lb.Get(ctx, symbol, direction, interval)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	entry.Symbol = symbol
	entry.Direction = direction
	entry.Interval = interval
	entry.Qty = domain.RoundQty(entry.Qty + qty)
	entry.PnL += pnl
	entry.UpdatedAt = time.Now().UTC()

	return lb.set(ctx, entry)
}

// Offset consumes buffered loss across every interval of (symbol, direction)
// with a realized profit, oldest-looking entries in scan order. Each entry is
// deleted once covered; partial coverage shrinks it proportionally. Leftover
// profit after all entries are cleared is simply kept.
func (lb *LossBufferStore) Offset(ctx context.Context, symbol string, direction domain.Direction, profit float64) error {
	if profit <= 0 {
		return nil
	}

	keys, err := scanKeys(ctx, lb.rdb, lossBufferPrefix+symbol+":"+string(direction)+":*")
	if err != nil {
		return err
	}

	remaining := profit
	for _, key := range keys {
		if remaining <= 0 {
			return nil
		}

		data, err := lb.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis: get loss buffer %s: %w", key, err)
		}

		var entry domain.LossBufferEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("redis: decode loss buffer %s: %w", key, err)
		}

		owed := -entry.PnL
		if owed <= remaining {
			remaining -= owed
			if err := lb.rdb.Del(ctx, key).Err(); err != nil {
				return fmt.Errorf("redis: delete loss buffer %s: %w", key, err)
			}
			continue
		}

		// Partial offset: shrink the loss and the quantity proportionally.
		ratio := (owed - remaining) / owed
		entry.PnL = -(owed - remaining)
		entry.Qty = domain.RoundQty(entry.Qty * ratio)
		entry.UpdatedAt = time.Now().UTC()
		remaining = 0

		if err := lb.set(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists every buffered loss key.
func (lb *LossBufferStore) Keys(ctx context.Context) ([]string, error) {
	return scanKeys(ctx, lb.rdb, lossBufferPrefix+"*")
}

// Delete removes one entry. Deleting an absent key is not an error.
func (lb *LossBufferStore) Delete(ctx context.Context, symbol string, direction domain.Direction, interval string) error {
	if err := lb.rdb.Del(ctx, lossBufferKey(symbol, direction, interval)).Err(); err != nil {
		return fmt.Errorf("redis: delete loss buffer %s %s %s: %w", symbol, direction, interval, err)
	}
	return nil
}

func (lb *LossBufferStore) set(ctx context.Context, entry domain.LossBufferEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: encode loss buffer: %w", err)
	}
	key := lossBufferKey(entry.Symbol, entry.Direction, entry.Interval)
	if err := lb.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set loss buffer %s: %w", key, err)
	}
	return nil
}

var _ domain.LossBufferStore = (*LossBufferStore)(nil)
