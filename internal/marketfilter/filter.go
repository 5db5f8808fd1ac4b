// Package marketfilter validates incoming signals against live market data:
// a candle-close check that rejects chased entries and a conviction score
// built from funding rate, price trend, and volume.
package marketfilter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/platform/bitunix"
)

const (
	// closeBufferPct widens the BUY validity band above the reference
	// close, so an entry slightly past the close still passes.
	closeBufferPct = 0.005

	// convictionLookback is how many candles feed the trend and volume
	// components.
	convictionLookback = 5

	// volumeSpikeRatio marks the last candle's volume as a spike when it
	// exceeds the average of the preceding ones by this factor.
	volumeSpikeRatio = 2.0
)

// MarketData is the slice of the exchange client the filter consumes.
type MarketData interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int, klineType string) ([]bitunix.Kline, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
}

// Filter implements signal validation.
type Filter struct {
	md     MarketData
	logger *slog.Logger
}

// New creates a Filter.
func New(md MarketData, logger *slog.Logger) *Filter {
	return &Filter{
		md:     md,
		logger: logger.With("component", "market_filter"),
	}
}

// Validate checks the signal against market data. A BUY is compared against
// the last closed candle; a SELL waits for the bar in progress to close
// first, since a short chased into a still-falling candle reads as valid
// otherwise. Conviction is scored regardless of the false-signal verdict so
// the caller can admit high-conviction exceptions.
func (f *Filter) Validate(ctx context.Context, sig domain.SignalEvent) (domain.FilterResult, error) {
	if sig.Direction == domain.DirectionSell {
		if err := f.waitForBarClose(ctx, sig); err != nil {
			return domain.FilterResult{}, err
		}
	}

	refClose, err := f.lastClosedPrice(ctx, sig.Symbol, sig.Interval)
	if err != nil {
		return domain.FilterResult{}, err
	}

	var isFalse bool
	switch sig.Direction {
	case domain.DirectionBuy:
		isFalse = sig.EntryPrice > refClose*(1+closeBufferPct)
	case domain.DirectionSell:
		isFalse = sig.EntryPrice < refClose
	}

	score := f.convictionScore(ctx, sig.Symbol, sig.Direction, sig.Interval)

	f.logger.Info("signal validated",
		"symbol", sig.Symbol, "direction", sig.Direction,
		"entry", sig.EntryPrice, "reference_close", refClose,
		"false_signal", isFalse, "score", score)

	return domain.FilterResult{
		IsFalseSignal:   isFalse,
		ReferenceClose:  refClose,
		ConvictionScore: score,
	}, nil
}

// waitForBarClose sleeps until the signal's bar closes, bounded by ctx.
func (f *Filter) waitForBarClose(ctx context.Context, sig domain.SignalEvent) error {
	barLen := time.Duration(domain.IntervalMinutes(sig.Interval)) * time.Minute
	closeAt := sig.ReceivedAt.Truncate(barLen).Add(barLen)
	wait := time.Until(closeAt)
	if wait <= 0 {
		return nil
	}

	f.logger.Info("waiting for bar close",
		"symbol", sig.Symbol, "interval", sig.Interval, "wait", wait.String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// lastClosedPrice returns the close of the most recent completed candle,
// skipping the bar still in progress.
func (f *Filter) lastClosedPrice(ctx context.Context, symbol, interval string) (float64, error) {
	klines, err := f.md.GetKlines(ctx, symbol, klineInterval(interval), 3, "LAST_PRICE")
	if err != nil {
		return 0, fmt.Errorf("marketfilter: klines %s: %w", symbol, err)
	}
	if len(klines) == 0 {
		return 0, fmt.Errorf("marketfilter: no klines for %s %s", symbol, interval)
	}

	sort.Slice(klines, func(i, j int) bool { return klines[i].Time < klines[j].Time })

	barLen := int64(domain.IntervalMinutes(interval)) * 60 * 1000
	now := time.Now().UnixMilli()
	for i := len(klines) - 1; i >= 0; i-- {
		if klines[i].Time+barLen <= now {
			return klines[i].Close.Float(), nil
		}
	}
	// Everything looks in-progress; the oldest candle is the best proxy.
	return klines[0].Close.Float(), nil
}

// convictionScore combines funding alignment (0.4), price trend alignment
// (0.3), and a direction-aligned volume spike (0.3). Data failures score
// zero rather than erroring, keeping the filter advisory.
func (f *Filter) convictionScore(ctx context.Context, symbol string, direction domain.Direction, interval string) float64 {
	klines, err := f.md.GetKlines(ctx, symbol, klineInterval(interval), convictionLookback, "LAST_PRICE")
	if err != nil || len(klines) < 2 {
		f.logger.Warn("conviction klines unavailable", "symbol", symbol, "error", err)
		return 0
	}
	sort.Slice(klines, func(i, j int) bool { return klines[i].Time < klines[j].Time })

	first := klines[0].Close.Float()
	last := klines[len(klines)-1].Close.Float()
	priceUp := last > first

	var volSum float64
	for _, k := range klines[:len(klines)-1] {
		volSum += k.BaseVol.Float()
	}
	avgVol := volSum / float64(len(klines)-1)
	spike := avgVol > 0 && klines[len(klines)-1].BaseVol.Float()/avgVol > volumeSpikeRatio

	funding, err := f.md.GetFundingRate(ctx, symbol)
	if err != nil {
		f.logger.Warn("funding rate unavailable", "symbol", symbol, "error", err)
		funding = 0
	}

	var score float64
	if (funding > 0 && direction == domain.DirectionBuy) ||
		(funding < 0 && direction == domain.DirectionSell) {
		score += 0.4
	}
	if (priceUp && direction == domain.DirectionBuy) ||
		(!priceUp && direction == domain.DirectionSell) {
		score += 0.3
	}
	if spike {
		if (direction == domain.DirectionBuy && priceUp) ||
			(direction == domain.DirectionSell && !priceUp) {
			score += 0.3
		}
	}
	return math.Round(score*100) / 100
}

// klineInterval maps signal timeframes without a native kline interval onto
// the nearest supported one.
func klineInterval(interval string) string {
	if interval == "3m" {
		return "1m"
	}
	return interval
}
