package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

// guardBuffer is the fraction of mark price used when auto-adjusting an
// invalid protective price to the nearest valid value.
const guardBuffer = 0.02

// checkProtective validates a protective price against the current mark. A
// BUY stop-loss must sit below mark and a BUY take-profit above it, mirrored
// for SELL.
func checkProtective(direction domain.Direction, isTP bool, price, mark float64) bool {
	if direction == domain.DirectionBuy {
		if isTP {
			return price > mark
		}
		return price < mark
	}
	if isTP {
		return price < mark
	}
	return price > mark
}

// nearestValid returns the closest acceptable protective price relative to
// mark, offset by the guard buffer.
func nearestValid(direction domain.Direction, isTP bool, mark float64) float64 {
	up := mark * (1 + guardBuffer)
	down := mark * (1 - guardBuffer)
	if direction == domain.DirectionBuy {
		if isTP {
			return domain.RoundPrice(up)
		}
		return domain.RoundPrice(down)
	}
	if isTP {
		return domain.RoundPrice(down)
	}
	return domain.RoundPrice(up)
}

// guardPrice validates price against a freshly fetched mark, retrying the
// fetch a bounded number of times. When the price stays invalid it either
// auto-adjusts to the nearest valid value (when enabled) or reports
// domain.ErrPriceInvalid. Protection is always preferred over no protection,
// so auto-adjust is the default policy.
func (e *Engine) guardPrice(ctx context.Context, symbol string, direction domain.Direction, isTP bool, price float64) (float64, error) {
	var mark float64
	err := withRetry(ctx, func() error {
		m, err := e.gw.GetMarkPrice(ctx, symbol)
		if err != nil {
			return err
		}
		mark = m
		if !checkProtective(direction, isTP, price, mark) {
			return fmt.Errorf("%w: %s %s price %.6f vs mark %.6f",
				domain.ErrPriceInvalid, direction, protectiveKind(isTP), price, mark)
		}
		return nil
	})
	if err == nil {
		return price, nil
	}
	if mark > 0 && e.autoAdjust {
		adjusted := nearestValid(direction, isTP, mark)
		e.logger.Warn("protective price auto-adjusted",
			slog.String("symbol", symbol),
			slog.String("direction", string(direction)),
			slog.String("kind", protectiveKind(isTP)),
			slog.Float64("requested", price),
			slog.Float64("mark", mark),
			slog.Float64("adjusted", adjusted))
		return adjusted, nil
	}
	return 0, err
}

func protectiveKind(isTP bool) string {
	if isTP {
		return "TP"
	}
	return "SL"
}
