package signal

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/execution"
	"github.com/alanyoungcy/bitunixbot/internal/platform/bitunix"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	recs map[string]domain.PositionRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: map[string]domain.PositionRecord{}}
}

func skey(symbol string, direction domain.Direction) string {
	return symbol + ":" + string(direction)
}

func (s *fakeStore) GetOrCreate(_ context.Context, symbol string, direction domain.Direction, _ string) (domain.PositionRecord, error) {
	if rec, ok := s.recs[skey(symbol, direction)]; ok {
		return rec, nil
	}
	rec := domain.NewPendingRecord(symbol, direction)
	s.recs[skey(symbol, direction)] = rec
	return rec, nil
}

func (s *fakeStore) Get(_ context.Context, symbol string, direction domain.Direction) (domain.PositionRecord, error) {
	rec, ok := s.recs[skey(symbol, direction)]
	if !ok {
		return domain.PositionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) Update(_ context.Context, symbol string, direction domain.Direction, _ string, rec domain.PositionRecord) error {
	s.recs[skey(symbol, direction)] = rec
	return nil
}

func (s *fakeStore) Delete(_ context.Context, symbol string, direction domain.Direction, _ string) error {
	delete(s.recs, skey(symbol, direction))
	return nil
}

func (s *fakeStore) ListOpen(_ context.Context) ([]domain.PositionRecord, error) { return nil, nil }

type fakeGateway struct {
	placed   []bitunix.PlaceOrderRequest
	placeErr error
	closed   []string
}

func (f *fakeGateway) PlaceOrder(_ context.Context, req bitunix.PlaceOrderRequest) (bitunix.PlaceOrderResult, error) {
	if f.placeErr != nil {
		return bitunix.PlaceOrderResult{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return bitunix.PlaceOrderResult{OrderID: "ord-1"}, nil
}

func (f *fakeGateway) PlaceTpSl(_ context.Context, _ bitunix.TpSlOrderRequest) (string, error) {
	return "prot-1", nil
}
func (f *fakeGateway) ModifyTpSl(_ context.Context, _ bitunix.ModifyTpSlRequest) error { return nil }
func (f *fakeGateway) CancelOrders(_ context.Context, _ string, _ []string) error      { return nil }
func (f *fakeGateway) GetPendingOrders(_ context.Context, _ string) ([]bitunix.PendingOrder, error) {
	return nil, nil
}
func (f *fakeGateway) FlashClose(_ context.Context, positionID string) error {
	f.closed = append(f.closed, positionID)
	return nil
}
func (f *fakeGateway) GetMarkPrice(_ context.Context, _ string) (float64, error) { return 100, nil }

type fakeValidator struct {
	verdict domain.FilterResult
	err     error
}

func (f *fakeValidator) Validate(_ context.Context, _ domain.SignalEvent) (domain.FilterResult, error) {
	return f.verdict, f.err
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f *fakeLimiter) Allow(_ context.Context, _ string, _ domain.Direction, _ string) (bool, error) {
	return f.allowed, f.err
}

type fakeLock struct {
	err      error
	held     bool
	unlocked bool
}

func (f *fakeLock) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.held = true
	return func() {
		f.held = false
		f.unlocked = true
	}, nil
}

type fakeBuffer struct {
	entries map[string]domain.LossBufferEntry
}

func (f *fakeBuffer) Get(_ context.Context, symbol string, direction domain.Direction, interval string) (domain.LossBufferEntry, error) {
	entry, ok := f.entries[symbol+":"+string(direction)+":"+interval]
	if !ok {
		return domain.LossBufferEntry{}, domain.ErrNotFound
	}
	return entry, nil
}
func (f *fakeBuffer) Accumulate(_ context.Context, _ string, _ domain.Direction, _ string, _, _ float64) error {
	return nil
}
func (f *fakeBuffer) Offset(_ context.Context, _ string, _ domain.Direction, _ float64) error {
	return nil
}
func (f *fakeBuffer) Keys(_ context.Context) ([]string, error) { return nil, nil }
func (f *fakeBuffer) Delete(_ context.Context, _ string, _ domain.Direction, _ string) error {
	return nil
}

type fakePnL struct {
	net float64
}

func (f *fakePnL) Log(_ context.Context, _ domain.PnLRecord) error { return nil }
func (f *fakePnL) NetSince(_ context.Context, _ time.Time) (float64, error) {
	return f.net, nil
}
func (f *fakePnL) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.PnLRecord, error) {
	return nil, nil
}
func (f *fakePnL) DeleteBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

type fakeAudit struct {
	entries []domain.SignalAudit
}

func (f *fakeAudit) Log(_ context.Context, a domain.SignalAudit) error {
	f.entries = append(f.entries, a)
	return nil
}
func (f *fakeAudit) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.SignalAudit, error) {
	return nil, nil
}
func (f *fakeAudit) DeleteBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	svc     *Service
	store   *fakeStore
	gw      *fakeGateway
	filter  *fakeValidator
	limiter *fakeLimiter
	lock    *fakeLock
	buffer  *fakeBuffer
	pnl     *fakePnL
	audit   *fakeAudit
}

func newHarness(cfg Config) *harness {
	h := &harness{
		store:   newFakeStore(),
		gw:      &fakeGateway{},
		filter:  &fakeValidator{verdict: domain.FilterResult{ConvictionScore: 0.5}},
		limiter: &fakeLimiter{allowed: true},
		lock:    &fakeLock{},
		buffer:  &fakeBuffer{entries: map[string]domain.LossBufferEntry{}},
		pnl:     &fakePnL{},
		audit:   &fakeAudit{},
	}
	logger := slog.New(slog.DiscardHandler)
	h.svc = New(cfg, h.store, execution.New(h.gw, true, logger), h.filter,
		h.limiter, h.lock, h.buffer, h.pnl, h.audit, logger)
	return h
}

func testSignal() domain.SignalEvent {
	return domain.SignalEvent{
		Symbol:           "BTCUSDT",
		Direction:        domain.DirectionBuy,
		EntryPrice:       100,
		StopLoss:         95,
		TakeProfits:      []float64{110, 120, 130, 140},
		AccumulationZone: [2]float64{100, 96},
		Interval:         "15m",
		RequestedQty:     0.5,
		ReceivedAt:       time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSubmitHappyPath(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})

	res := h.svc.Submit(context.Background(), testSignal())
	require.True(t, res.Accepted)

	// One market entry plus three accumulation limits.
	require.Len(t, h.gw.placed, 4)
	assert.Equal(t, "0.5", h.gw.placed[0].Qty)

	rec, err := h.store.Get(context.Background(), "BTCUSDT", domain.DirectionBuy)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPending, rec.Status)
	assert.Equal(t, []float64{110, 120, 130, 140}, rec.TPs)
	assert.Equal(t, 95.0, rec.StopLoss)
	assert.Equal(t, "15m", rec.Interval)

	require.Len(t, h.audit.entries, 1)
	assert.True(t, h.audit.entries[0].Executed)
	assert.Equal(t, "executed", h.audit.entries[0].Reason)

	// The admission lock rides out its TTL after an accepted signal.
	assert.True(t, h.lock.held)
	assert.False(t, h.lock.unlocked)
}

func TestSubmitIdenticalSignalWithinWindowDropped(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})

	first := h.svc.Submit(context.Background(), testSignal())
	require.True(t, first.Accepted)
	require.Len(t, h.gw.placed, 4)

	second := h.svc.Submit(context.Background(), testSignal())
	assert.False(t, second.Accepted)
	assert.Equal(t, "duplicate signal", second.Reason)
	assert.Len(t, h.gw.placed, 4)
}

func TestSubmitUsesDefaultQtyWhenAbsent(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.25})

	sig := testSignal()
	sig.RequestedQty = 0
	res := h.svc.Submit(context.Background(), sig)
	require.True(t, res.Accepted)
	assert.Equal(t, "0.25", h.gw.placed[0].Qty)
}

func TestSubmitAddsBufferedLossQty(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.buffer.entries["BTCUSDT:BUY:15m"] = domain.LossBufferEntry{Qty: 0.3, PnL: -12}
	h.buffer.entries["BTCUSDT:BUY:1h"] = domain.LossBufferEntry{Qty: 0.2, PnL: -8}

	res := h.svc.Submit(context.Background(), testSignal())
	require.True(t, res.Accepted)
	assert.Equal(t, "1", h.gw.placed[0].Qty) // 0.5 + 0.3 + 0.2
}

func TestSubmitRateLimited(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.limiter.allowed = false

	res := h.svc.Submit(context.Background(), testSignal())
	assert.False(t, res.Accepted)
	assert.Equal(t, "rate limited", res.Reason)
	assert.Empty(t, h.gw.placed)
}

func TestSubmitLimiterFailureAdmits(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.limiter.allowed = false
	h.limiter.err = errors.New("redis down")

	res := h.svc.Submit(context.Background(), testSignal())
	assert.True(t, res.Accepted)
}

func TestSubmitDuplicateDropped(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.lock.err = domain.ErrLockHeld

	res := h.svc.Submit(context.Background(), testSignal())
	assert.False(t, res.Accepted)
	assert.Equal(t, "duplicate signal", res.Reason)
	assert.Empty(t, h.gw.placed)
}

func TestSubmitLockBackendFailureAdmits(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.lock.err = errors.New("redis down")

	res := h.svc.Submit(context.Background(), testSignal())
	assert.True(t, res.Accepted)
}

func TestSubmitFalseSignalRejectedOnLowConviction(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.filter.verdict = domain.FilterResult{IsFalseSignal: true, ConvictionScore: 0.6}

	res := h.svc.Submit(context.Background(), testSignal())
	assert.False(t, res.Accepted)
	assert.Equal(t, "false signal", res.Reason)
}

func TestSubmitFalseSignalAdmittedOnHighConviction(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.filter.verdict = domain.FilterResult{IsFalseSignal: true, ConvictionScore: 0.7}

	res := h.svc.Submit(context.Background(), testSignal())
	assert.True(t, res.Accepted)
}

func TestSubmitCleanSignalNeedsMinimumConviction(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.filter.verdict = domain.FilterResult{ConvictionScore: 0.1}

	res := h.svc.Submit(context.Background(), testSignal())
	assert.False(t, res.Accepted)
}

func TestSubmitFilterFailureRejects(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.filter.err = errors.New("api down")

	res := h.svc.Submit(context.Background(), testSignal())
	assert.False(t, res.Accepted)
	assert.Equal(t, "market filter unavailable", res.Reason)
}

func TestSubmitDailyLossBreaker(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1, MaxDailyLoss: 100})
	h.pnl.net = -150

	res := h.svc.Submit(context.Background(), testSignal())
	assert.False(t, res.Accepted)
	assert.Equal(t, "daily loss limit reached", res.Reason)
}

func TestSubmitDailyLossBreakerDisabledByDefault(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.pnl.net = -1e9

	res := h.svc.Submit(context.Background(), testSignal())
	assert.True(t, res.Accepted)
}

func TestSubmitIgnoredWhenCoarserPositionHolds(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.store.recs[skey("BTCUSDT", domain.DirectionBuy)] = domain.PositionRecord{
		Symbol: "BTCUSDT", Direction: domain.DirectionBuy,
		Status: domain.PositionStatusOpen, TotalQty: 1, Interval: "4h",
	}

	res := h.svc.Submit(context.Background(), testSignal())
	assert.False(t, res.Accepted)
	assert.Equal(t, "existing position outranks signal", res.Reason)
	assert.Empty(t, h.gw.placed)
}

func TestSubmitUpgradeMergesIntoOpenPosition(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.store.recs[skey("BTCUSDT", domain.DirectionBuy)] = domain.PositionRecord{
		Symbol: "BTCUSDT", Direction: domain.DirectionBuy,
		PositionID: "pos-long", Status: domain.PositionStatusOpen,
		TotalQty: 0.4, Step: 1, Interval: "5m",
		EntryPrice: 99, StopLoss: 94, SLOrderID: "sl-1",
		TPs:      []float64{108, 118, 128, 138},
		TPOrders: map[string]string{"TP2": "tp-2", "TP3": "tp-3", "TP4": "tp-4"},
	}

	res := h.svc.Submit(context.Background(), testSignal())
	require.True(t, res.Accepted)

	// The entry adds only the new quantity on top of the live position.
	assert.Equal(t, "0.5", h.gw.placed[0].Qty)

	// The open record keeps its identity, ladder progress, and protective
	// set; only the governing timeframe moves to the new signal's.
	rec := h.store.recs[skey("BTCUSDT", domain.DirectionBuy)]
	assert.Equal(t, domain.PositionStatusOpen, rec.Status)
	assert.Equal(t, "pos-long", rec.PositionID)
	assert.Equal(t, "sl-1", rec.SLOrderID)
	assert.Equal(t, 1, rec.Step)
	assert.Equal(t, 0.4, rec.TotalQty)
	assert.Equal(t, map[string]string{"TP2": "tp-2", "TP3": "tp-3", "TP4": "tp-4"}, rec.TPOrders)
	assert.Equal(t, "15m", rec.Interval)
}

func TestSubmitEqualTimeframeUpgradesOpenPosition(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.store.recs[skey("BTCUSDT", domain.DirectionBuy)] = domain.PositionRecord{
		Symbol: "BTCUSDT", Direction: domain.DirectionBuy,
		PositionID: "pos-long", Status: domain.PositionStatusOpen,
		TotalQty: 0.4, Interval: "15m",
	}

	res := h.svc.Submit(context.Background(), testSignal())
	require.True(t, res.Accepted)
	assert.Equal(t, "0.5", h.gw.placed[0].Qty)
	assert.Equal(t, "pos-long", h.store.recs[skey("BTCUSDT", domain.DirectionBuy)].PositionID)
}

func TestSubmitReversalAbsorbsOppositePosition(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.store.recs[skey("BTCUSDT", domain.DirectionSell)] = domain.PositionRecord{
		Symbol: "BTCUSDT", Direction: domain.DirectionSell,
		PositionID: "pos-short", Status: domain.PositionStatusOpen,
		TotalQty: 0.6, Interval: "15m",
	}

	res := h.svc.Submit(context.Background(), testSignal())
	require.True(t, res.Accepted)

	assert.Equal(t, []string{"pos-short"}, h.gw.closed)
	assert.NotContains(t, h.store.recs, skey("BTCUSDT", domain.DirectionSell))
	assert.Equal(t, "1.1", h.gw.placed[0].Qty) // 0.5 requested + 0.6 absorbed
}

func TestSubmitFinerOppositeSignalLeavesPositionAlone(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.store.recs[skey("BTCUSDT", domain.DirectionSell)] = domain.PositionRecord{
		Symbol: "BTCUSDT", Direction: domain.DirectionSell,
		PositionID: "pos-short", Status: domain.PositionStatusOpen,
		TotalQty: 0.6, Interval: "4h",
	}

	res := h.svc.Submit(context.Background(), testSignal())
	require.True(t, res.Accepted)
	assert.Empty(t, h.gw.closed)
	assert.Contains(t, h.store.recs, skey("BTCUSDT", domain.DirectionSell))
	assert.Equal(t, "0.5", h.gw.placed[0].Qty)
}

func TestSubmitEntryFailureReported(t *testing.T) {
	h := newHarness(Config{DefaultQty: 0.1})
	h.gw.placeErr = errors.New("exchange rejected")

	res := h.svc.Submit(context.Background(), testSignal())
	assert.False(t, res.Accepted)
	assert.Equal(t, "entry placement failed", res.Reason)

	require.NotEmpty(t, h.audit.entries)
	assert.False(t, h.audit.entries[len(h.audit.entries)-1].Executed)

	// A rejected admission frees the lock for the next attempt.
	assert.True(t, h.lock.unlocked)
	assert.False(t, h.lock.held)
}
