package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

// limiterWindow bounds signal intake for one timeframe: at most Max
// admissions per rolling Window.
type limiterWindow struct {
	Window time.Duration
	Max    int64
}

// limiterWindows scales the intake budget with the timeframe: fast
// timeframes get short windows and small budgets, slow ones long windows.
var limiterWindows = map[string]limiterWindow{
	"1m":  {Window: 5 * time.Second, Max: 2},
	"5m":  {Window: 10 * time.Second, Max: 3},
	"15m": {Window: 60 * time.Second, Max: 3},
	"1h":  {Window: 120 * time.Second, Max: 3},
	"4h":  {Window: 300 * time.Second, Max: 2},
	"1d":  {Window: 600 * time.Second, Max: 1},
}

// SignalLimiter implements domain.SignalLimiter with a counter per
// (symbol, direction, interval) that expires with the window. Backend errors
// fail open.
type SignalLimiter struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSignalLimiter creates a SignalLimiter backed by the given Client.
func NewSignalLimiter(c *Client, logger *slog.Logger) *SignalLimiter {
	return &SignalLimiter{
		rdb:    c.Underlying(),
		logger: logger.With("component", "signal_limiter"),
	}
}

func limiterKey(symbol string, direction domain.Direction, interval string) string {
	return "signal_limiter:" + symbol + ":" + string(direction) + ":" + interval
}

// Allow reports whether another signal fits the interval's window. Unknown
// intervals are always allowed.
func (sl *SignalLimiter) Allow(ctx context.Context, symbol string, direction domain.Direction, interval string) (bool, error) {
	w, ok := limiterWindows[interval]
	if !ok {
		return true, nil
	}
	key := limiterKey(symbol, direction, interval)

	count, err := sl.rdb.Incr(ctx, key).Result()
	if err != nil {
		sl.logger.Warn("limiter backend unavailable, admitting",
			"symbol", symbol, "interval", interval, "error", err)
		return true, nil
	}
	if count == 1 {
		// First hit opens the window.
		if err := sl.rdb.Expire(ctx, key, w.Window).Err(); err != nil {
			sl.logger.Warn("limiter expire failed", "key", key, "error", err)
		}
	}

	return count <= w.Max, nil
}

var _ domain.SignalLimiter = (*SignalLimiter)(nil)
