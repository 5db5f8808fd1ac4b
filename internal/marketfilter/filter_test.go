package marketfilter

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/platform/bitunix"
)

// fakeMarketData serves scripted klines and funding for every request.
type fakeMarketData struct {
	klines     []bitunix.Kline
	klinesErr  error
	funding    float64
	fundingErr error

	lastInterval string
}

func (f *fakeMarketData) GetKlines(_ context.Context, _, interval string, _ int, _ string) ([]bitunix.Kline, error) {
	f.lastInterval = interval
	return f.klines, f.klinesErr
}

func (f *fakeMarketData) GetFundingRate(_ context.Context, _ string) (float64, error) {
	return f.funding, f.fundingErr
}

// candles builds a fully closed candle series ending one bar ago with the
// given closes and volumes.
func candles(interval string, closes, vols []float64) []bitunix.Kline {
	barMs := int64(domain.IntervalMinutes(interval)) * 60 * 1000
	now := time.Now().UnixMilli()

	out := make([]bitunix.Kline, 0, len(closes))
	for i := range closes {
		start := now - int64(len(closes)-i+1)*barMs
		out = append(out, bitunix.Kline{
			Time:    start,
			Close:   bitunix.Number(closes[i]),
			BaseVol: bitunix.Number(vols[i]),
		})
	}
	return out
}

func newTestFilter(md MarketData) *Filter {
	return New(md, slog.New(slog.DiscardHandler))
}

func buySignal(entry float64) domain.SignalEvent {
	return domain.SignalEvent{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionBuy,
		EntryPrice: entry,
		Interval:   "1m",
		ReceivedAt: time.Now().UTC(),
	}
}

func TestValidateBuyWithinCloseBuffer(t *testing.T) {
	md := &fakeMarketData{
		klines:  candles("1m", []float64{100, 101, 102}, []float64{10, 10, 10}),
		funding: 0.0001,
	}
	f := newTestFilter(md)

	// Entry just above the last closed candle, inside the 0.5% buffer.
	res, err := f.Validate(context.Background(), buySignal(102.4))
	require.NoError(t, err)
	assert.False(t, res.IsFalseSignal)
	assert.Equal(t, 102.0, res.ReferenceClose)
}

func TestValidateSkipsBarInProgress(t *testing.T) {
	barMs := int64(60 * 1000)
	klines := candles("1m", []float64{100, 101, 102}, []float64{10, 10, 10})
	// A bar still in progress must not become the reference close.
	klines = append(klines, bitunix.Kline{
		Time:    time.Now().UnixMilli() - barMs/2,
		Close:   bitunix.Number(250),
		BaseVol: bitunix.Number(1),
	})
	f := newTestFilter(&fakeMarketData{klines: klines})

	res, err := f.Validate(context.Background(), buySignal(102))
	require.NoError(t, err)
	assert.Equal(t, 102.0, res.ReferenceClose)
}

func TestValidateBuyChasedEntryIsFalse(t *testing.T) {
	md := &fakeMarketData{
		klines: candles("1m", []float64{100, 101, 102}, []float64{10, 10, 10}),
	}
	f := newTestFilter(md)

	res, err := f.Validate(context.Background(), buySignal(103))
	require.NoError(t, err)
	assert.True(t, res.IsFalseSignal)
}

func TestValidateSellBelowCloseIsFalse(t *testing.T) {
	md := &fakeMarketData{
		klines: candles("1m", []float64{104, 103, 102}, []float64{10, 10, 10}),
	}
	f := newTestFilter(md)

	sig := domain.SignalEvent{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionSell,
		EntryPrice: 101.5,
		Interval:   "1m",
		// Received in a past bar so validation does not wait.
		ReceivedAt: time.Now().UTC().Add(-2 * time.Minute),
	}
	res, err := f.Validate(context.Background(), sig)
	require.NoError(t, err)
	assert.True(t, res.IsFalseSignal)
	assert.Equal(t, 102.0, res.ReferenceClose)
}

func TestValidateSellWaitHonoursContext(t *testing.T) {
	md := &fakeMarketData{
		klines: candles("1h", []float64{104, 103, 102}, []float64{10, 10, 10}),
	}
	f := newTestFilter(md)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sig := domain.SignalEvent{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionSell,
		EntryPrice: 103,
		Interval:   "1h",
		ReceivedAt: time.Now().UTC(),
	}
	_, err := f.Validate(ctx, sig)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidateKlineFailureIsAnError(t *testing.T) {
	md := &fakeMarketData{klinesErr: errors.New("api down")}
	f := newTestFilter(md)

	_, err := f.Validate(context.Background(), buySignal(100))
	assert.Error(t, err)
}

func TestConvictionScoreFullAlignment(t *testing.T) {
	// Rising closes, last volume spiking, positive funding: every component
	// aligns with a BUY.
	md := &fakeMarketData{
		klines:  candles("1m", []float64{100, 101, 102, 103, 110}, []float64{10, 10, 10, 10, 50}),
		funding: 0.0003,
	}
	f := newTestFilter(md)

	score := f.convictionScore(context.Background(), "BTCUSDT", domain.DirectionBuy, "1m")
	assert.Equal(t, 1.0, score)
}

func TestConvictionScoreMisaligned(t *testing.T) {
	// Falling trend, no spike, positive funding: nothing supports a SELL
	// beyond the trend.
	md := &fakeMarketData{
		klines:  candles("1m", []float64{110, 108, 106, 104, 102}, []float64{10, 10, 10, 10, 10}),
		funding: 0.0003,
	}
	f := newTestFilter(md)

	assert.Equal(t, 0.3, f.convictionScore(context.Background(), "BTCUSDT", domain.DirectionSell, "1m"))
	assert.Equal(t, 0.4, f.convictionScore(context.Background(), "BTCUSDT", domain.DirectionBuy, "1m"))
}

func TestConvictionScoreSpikeNeedsPriceAlignment(t *testing.T) {
	// Volume spike on a falling series contributes nothing to a BUY.
	md := &fakeMarketData{
		klines:  candles("1m", []float64{110, 108, 106, 104, 102}, []float64{10, 10, 10, 10, 80}),
		funding: 0.0003,
	}
	f := newTestFilter(md)

	assert.Equal(t, 0.4, f.convictionScore(context.Background(), "BTCUSDT", domain.DirectionBuy, "1m"))
	assert.Equal(t, 0.6, f.convictionScore(context.Background(), "BTCUSDT", domain.DirectionSell, "1m"))
}

func TestConvictionScoreDataFailureScoresZero(t *testing.T) {
	md := &fakeMarketData{klinesErr: errors.New("api down")}
	f := newTestFilter(md)
	assert.Zero(t, f.convictionScore(context.Background(), "BTCUSDT", domain.DirectionBuy, "1m"))
}

func TestKlineIntervalMapping(t *testing.T) {
	md := &fakeMarketData{
		klines: candles("1m", []float64{100, 101, 102}, []float64{10, 10, 10}),
	}
	f := newTestFilter(md)

	sig := buySignal(102)
	sig.Interval = "3m"
	_, err := f.Validate(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, "1m", md.lastInterval)
}
