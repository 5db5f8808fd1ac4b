package execution

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/platform/bitunix"
)

// fakeGateway records calls and plays back scripted responses.
type fakeGateway struct {
	mark    float64
	markErr error

	placed    []bitunix.PlaceOrderRequest
	placeErr  error
	tpsl      []bitunix.TpSlOrderRequest
	modified  []bitunix.ModifyTpSlRequest
	cancelled [][]string
	pending   []bitunix.PendingOrder
	closed    []string

	nextOrderID int
}

func (f *fakeGateway) PlaceOrder(_ context.Context, req bitunix.PlaceOrderRequest) (bitunix.PlaceOrderResult, error) {
	if f.placeErr != nil {
		return bitunix.PlaceOrderResult{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	f.nextOrderID++
	return bitunix.PlaceOrderResult{OrderID: orderID(f.nextOrderID)}, nil
}

func (f *fakeGateway) PlaceTpSl(_ context.Context, req bitunix.TpSlOrderRequest) (string, error) {
	f.tpsl = append(f.tpsl, req)
	f.nextOrderID++
	return orderID(f.nextOrderID), nil
}

func (f *fakeGateway) ModifyTpSl(_ context.Context, req bitunix.ModifyTpSlRequest) error {
	f.modified = append(f.modified, req)
	return nil
}

func (f *fakeGateway) CancelOrders(_ context.Context, _ string, orderIDs []string) error {
	f.cancelled = append(f.cancelled, orderIDs)
	return nil
}

func (f *fakeGateway) GetPendingOrders(_ context.Context, _ string) ([]bitunix.PendingOrder, error) {
	return f.pending, nil
}

func (f *fakeGateway) FlashClose(_ context.Context, positionID string) error {
	f.closed = append(f.closed, positionID)
	return nil
}

func (f *fakeGateway) GetMarkPrice(_ context.Context, _ string) (float64, error) {
	return f.mark, f.markErr
}

func orderID(n int) string {
	return "ord-" + string(rune('0'+n))
}

func newTestEngine(gw *fakeGateway, autoAdjust bool) *Engine {
	return New(gw, autoAdjust, slog.New(slog.DiscardHandler))
}

func TestCheckProtective(t *testing.T) {
	tests := []struct {
		name      string
		direction domain.Direction
		isTP      bool
		price     float64
		mark      float64
		want      bool
	}{
		{"buy tp above mark", domain.DirectionBuy, true, 105, 100, true},
		{"buy tp below mark", domain.DirectionBuy, true, 95, 100, false},
		{"buy sl below mark", domain.DirectionBuy, false, 95, 100, true},
		{"buy sl above mark", domain.DirectionBuy, false, 105, 100, false},
		{"sell tp below mark", domain.DirectionSell, true, 95, 100, true},
		{"sell tp above mark", domain.DirectionSell, true, 105, 100, false},
		{"sell sl above mark", domain.DirectionSell, false, 105, 100, true},
		{"sell sl below mark", domain.DirectionSell, false, 95, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkProtective(tt.direction, tt.isTP, tt.price, tt.mark))
		})
	}
}

func TestNearestValid(t *testing.T) {
	assert.Equal(t, 102.0, nearestValid(domain.DirectionBuy, true, 100))
	assert.Equal(t, 98.0, nearestValid(domain.DirectionBuy, false, 100))
	assert.Equal(t, 98.0, nearestValid(domain.DirectionSell, true, 100))
	assert.Equal(t, 102.0, nearestValid(domain.DirectionSell, false, 100))
}

func TestPlaceEntrySubmitsMarketPlusAccumulationLadder(t *testing.T) {
	gw := &fakeGateway{mark: 100}
	e := newTestEngine(gw, true)

	sig := domain.SignalEvent{
		Symbol:           "BTCUSDT",
		Direction:        domain.DirectionBuy,
		EntryPrice:       100,
		AccumulationZone: [2]float64{100, 96},
	}

	out, err := e.PlaceEntry(context.Background(), sig, 0.7)
	require.NoError(t, err)
	require.Len(t, gw.placed, 4)

	market := gw.placed[0]
	assert.Equal(t, "MARKET", market.OrderType)
	assert.Equal(t, "OPEN", market.TradeSide)
	assert.Equal(t, "0.7", market.Qty)
	assert.Empty(t, market.Price)

	// Zone top, midpoint, bottom with 1:1:2 weights.
	assert.Equal(t, "100", gw.placed[1].Price)
	assert.Equal(t, "0.7", gw.placed[1].Qty)
	assert.Equal(t, "98", gw.placed[2].Price)
	assert.Equal(t, "0.7", gw.placed[2].Qty)
	assert.Equal(t, "96", gw.placed[3].Price)
	assert.Equal(t, "1.4", gw.placed[3].Qty)

	assert.NotEmpty(t, out.MarketOrderID)
	assert.Len(t, out.LimitOrderIDs, 3)
}

func TestPlaceTakeProfitGuardsAgainstMark(t *testing.T) {
	gw := &fakeGateway{mark: 100}
	e := newTestEngine(gw, true)

	id, err := e.PlaceTakeProfit(context.Background(), "BTCUSDT", "pos-1", domain.DirectionBuy, 110, 0.5)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, gw.tpsl, 1)
	req := gw.tpsl[0]
	assert.Equal(t, "110", req.TpPrice)
	assert.Equal(t, "MARK_PRICE", req.TpStopType)
	assert.Equal(t, "MARKET", req.TpOrderType)
	assert.Equal(t, "0.5", req.TpQty)
	assert.Empty(t, req.SlPrice)
}

func TestPlaceStopLossAutoAdjustsInvalidPrice(t *testing.T) {
	gw := &fakeGateway{mark: 100}
	e := newTestEngine(gw, true)

	// A BUY stop above mark is invalid; with auto-adjust on it moves to
	// mark less the guard buffer.
	_, err := e.PlaceStopLoss(context.Background(), "BTCUSDT", "pos-1", domain.DirectionBuy, 105, 0.5)
	require.NoError(t, err)

	require.Len(t, gw.tpsl, 1)
	assert.Equal(t, "98", gw.tpsl[0].SlPrice)
}

func TestPlaceStopLossRejectsInvalidPriceWithoutAutoAdjust(t *testing.T) {
	gw := &fakeGateway{mark: 100}
	e := newTestEngine(gw, false)

	_, err := e.PlaceStopLoss(context.Background(), "BTCUSDT", "pos-1", domain.DirectionBuy, 105, 0.5)
	assert.ErrorIs(t, err, domain.ErrPriceInvalid)
	assert.Empty(t, gw.tpsl)
}

func TestModifyProtectiveSetsOnlyOneSide(t *testing.T) {
	gw := &fakeGateway{mark: 100}
	e := newTestEngine(gw, true)

	err := e.ModifyProtective(context.Background(), "BTCUSDT", "ord-9", domain.DirectionBuy, false, 97, 0.3)
	require.NoError(t, err)

	require.Len(t, gw.modified, 1)
	req := gw.modified[0]
	assert.Equal(t, "ord-9", req.OrderID)
	assert.Equal(t, "97", req.SlPrice)
	assert.Equal(t, "0.3", req.SlQty)
	assert.Empty(t, req.TpPrice)
}

func TestCancelOpenOrdersFiltersBySideAndStatus(t *testing.T) {
	gw := &fakeGateway{
		pending: []bitunix.PendingOrder{
			{OrderID: "a", Side: "BUY", Status: "NEW"},
			{OrderID: "b", Side: "SELL", Status: "NEW"},
			{OrderID: "c", Side: "LONG", Status: "PART_FILLED"},
			{OrderID: "d", Side: "BUY", Status: "FILLED"},
		},
	}
	e := newTestEngine(gw, true)

	require.NoError(t, e.CancelOpenOrders(context.Background(), "BTCUSDT", domain.DirectionBuy, CancelWorking))
	require.Len(t, gw.cancelled, 1)
	assert.Equal(t, []string{"a", "c"}, gw.cancelled[0])
}

func TestCancelOpenOrdersAllScopeIgnoresStatus(t *testing.T) {
	gw := &fakeGateway{
		pending: []bitunix.PendingOrder{
			{OrderID: "a", Side: "SHORT", Status: "FILLED"},
			{OrderID: "b", Side: "SELL", Status: "NEW"},
			{OrderID: "c", Side: "BUY", Status: "NEW"},
		},
	}
	e := newTestEngine(gw, true)

	require.NoError(t, e.CancelOpenOrders(context.Background(), "BTCUSDT", domain.DirectionSell, CancelAll))
	require.Len(t, gw.cancelled, 1)
	assert.Equal(t, []string{"a", "b"}, gw.cancelled[0])
}

func TestCancelOpenOrdersNoopWhenNothingPending(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(gw, true)

	require.NoError(t, e.CancelOpenOrders(context.Background(), "BTCUSDT", domain.DirectionSell, CancelWorking))
	assert.Empty(t, gw.cancelled)
}

func TestWithRetryRecoversFromTransientFailure(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return errors.New("persistent")
	})
	assert.Error(t, err)
	assert.Equal(t, maxAttempts, attempts)
}

func TestWithRetryHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, func() error {
		return errors.New("always failing")
	})
	assert.Error(t, err)
}
