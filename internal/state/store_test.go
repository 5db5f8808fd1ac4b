package state

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

type fakeCache struct {
	recs map[string]domain.PositionRecord
	err  error
	sets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{recs: map[string]domain.PositionRecord{}}
}

func cacheKey(symbol string, direction domain.Direction) string {
	return symbol + ":" + string(direction)
}

func (c *fakeCache) Get(_ context.Context, symbol string, direction domain.Direction) (domain.PositionRecord, error) {
	if c.err != nil {
		return domain.PositionRecord{}, c.err
	}
	rec, ok := c.recs[cacheKey(symbol, direction)]
	if !ok {
		return domain.PositionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (c *fakeCache) Set(_ context.Context, rec domain.PositionRecord) error {
	if c.err != nil {
		return c.err
	}
	c.sets++
	c.recs[cacheKey(rec.Symbol, rec.Direction)] = rec
	return nil
}

func (c *fakeCache) Delete(_ context.Context, symbol string, direction domain.Direction) error {
	if c.err != nil {
		return c.err
	}
	delete(c.recs, cacheKey(symbol, direction))
	return nil
}

func (c *fakeCache) Keys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(c.recs))
	for k := range c.recs {
		keys = append(keys, k)
	}
	return keys, nil
}

type fakeDurable struct {
	recs    map[string]domain.PositionRecord
	err     error
	upserts int
	deletes int
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{recs: map[string]domain.PositionRecord{}}
}

func (d *fakeDurable) Get(_ context.Context, symbol string, direction domain.Direction) (domain.PositionRecord, error) {
	if d.err != nil {
		return domain.PositionRecord{}, d.err
	}
	rec, ok := d.recs[cacheKey(symbol, direction)]
	if !ok {
		return domain.PositionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (d *fakeDurable) Upsert(_ context.Context, rec domain.PositionRecord) error {
	if d.err != nil {
		return d.err
	}
	d.upserts++
	d.recs[cacheKey(rec.Symbol, rec.Direction)] = rec
	return nil
}

func (d *fakeDurable) Delete(_ context.Context, symbol string, direction domain.Direction) error {
	if d.err != nil {
		return d.err
	}
	d.deletes++
	delete(d.recs, cacheKey(symbol, direction))
	return nil
}

func (d *fakeDurable) ListOpen(_ context.Context) ([]domain.PositionRecord, error) {
	var out []domain.PositionRecord
	for _, rec := range d.recs {
		if rec.Status == domain.PositionStatusOpen {
			out = append(out, rec)
		}
	}
	return out, nil
}

func newTestStore(cache *fakeCache, durable *fakeDurable) *Store {
	return New(cache, durable, slog.New(slog.DiscardHandler))
}

func TestGetPrefersCache(t *testing.T) {
	cache := newFakeCache()
	durable := newFakeDurable()
	s := newTestStore(cache, durable)

	want := domain.PositionRecord{Symbol: "BTCUSDT", Direction: domain.DirectionBuy, EntryPrice: 100}
	cache.recs[cacheKey("BTCUSDT", domain.DirectionBuy)] = want
	durable.recs[cacheKey("BTCUSDT", domain.DirectionBuy)] = domain.PositionRecord{
		Symbol: "BTCUSDT", Direction: domain.DirectionBuy, EntryPrice: 999,
	}

	got, err := s.Get(context.Background(), "BTCUSDT", domain.DirectionBuy)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.EntryPrice)
}

func TestGetFallsBackToDurableAndRepopulatesCache(t *testing.T) {
	cache := newFakeCache()
	durable := newFakeDurable()
	s := newTestStore(cache, durable)

	want := domain.PositionRecord{Symbol: "BTCUSDT", Direction: domain.DirectionSell, EntryPrice: 200}
	durable.recs[cacheKey("BTCUSDT", domain.DirectionSell)] = want

	got, err := s.Get(context.Background(), "BTCUSDT", domain.DirectionSell)
	require.NoError(t, err)
	assert.Equal(t, 200.0, got.EntryPrice)
	assert.Contains(t, cache.recs, cacheKey("BTCUSDT", domain.DirectionSell))
}

func TestGetMissIsNotFound(t *testing.T) {
	s := newTestStore(newFakeCache(), newFakeDurable())
	_, err := s.Get(context.Background(), "BTCUSDT", domain.DirectionBuy)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetOrCreateWritesPendingPlaceholder(t *testing.T) {
	cache := newFakeCache()
	durable := newFakeDurable()
	s := newTestStore(cache, durable)

	rec, err := s.GetOrCreate(context.Background(), "BTCUSDT", domain.DirectionBuy, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPending, rec.Status)
	assert.Equal(t, "pos-1", rec.PositionID)

	// The placeholder lands in both tiers.
	assert.Contains(t, cache.recs, cacheKey("BTCUSDT", domain.DirectionBuy))
	assert.Contains(t, durable.recs, cacheKey("BTCUSDT", domain.DirectionBuy))
}

func TestGetOrCreateStampsPositionIDOntoPlaceholder(t *testing.T) {
	cache := newFakeCache()
	durable := newFakeDurable()
	s := newTestStore(cache, durable)

	pending := domain.NewPendingRecord("BTCUSDT", domain.DirectionBuy)
	cache.recs[cacheKey("BTCUSDT", domain.DirectionBuy)] = pending

	rec, err := s.GetOrCreate(context.Background(), "BTCUSDT", domain.DirectionBuy, "pos-7")
	require.NoError(t, err)
	assert.Equal(t, "pos-7", rec.PositionID)
	assert.Equal(t, "pos-7", cache.recs[cacheKey("BTCUSDT", domain.DirectionBuy)].PositionID)
}

func TestUpdateWritesBothTiers(t *testing.T) {
	cache := newFakeCache()
	durable := newFakeDurable()
	s := newTestStore(cache, durable)

	rec := domain.PositionRecord{Status: domain.PositionStatusOpen, EntryPrice: 150}
	require.NoError(t, s.Update(context.Background(), "ETHUSDT", domain.DirectionBuy, "pos-2", rec))

	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1, durable.upserts)
	got := durable.recs[cacheKey("ETHUSDT", domain.DirectionBuy)]
	assert.Equal(t, "ETHUSDT", got.Symbol)
	assert.Equal(t, "pos-2", got.PositionID)
}

func TestUpdateToleratesDurableFailure(t *testing.T) {
	cache := newFakeCache()
	durable := newFakeDurable()
	durable.err = errors.New("db down")
	s := newTestStore(cache, durable)

	rec := domain.PositionRecord{Status: domain.PositionStatusOpen}
	assert.NoError(t, s.Update(context.Background(), "BTCUSDT", domain.DirectionBuy, "", rec))
	assert.Equal(t, 1, cache.sets)
}

func TestUpdateFailsOnCacheFailure(t *testing.T) {
	cache := newFakeCache()
	cache.err = errors.New("redis down")
	s := newTestStore(cache, newFakeDurable())

	err := s.Update(context.Background(), "BTCUSDT", domain.DirectionBuy, "", domain.PositionRecord{})
	assert.Error(t, err)
}

func TestDeleteRemovesBothTiers(t *testing.T) {
	cache := newFakeCache()
	durable := newFakeDurable()
	s := newTestStore(cache, durable)

	rec := domain.PositionRecord{Symbol: "BTCUSDT", Direction: domain.DirectionBuy}
	cache.recs[cacheKey("BTCUSDT", domain.DirectionBuy)] = rec
	durable.recs[cacheKey("BTCUSDT", domain.DirectionBuy)] = rec

	require.NoError(t, s.Delete(context.Background(), "BTCUSDT", domain.DirectionBuy, ""))
	assert.Empty(t, cache.recs)
	assert.Empty(t, durable.recs)
}
