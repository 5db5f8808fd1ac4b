// Package execution submits and maintains exchange orders: the entry ladder,
// protective TP/SL triggers, and position closes. Every submission is
// guarded against the current mark price and retried on transport failure.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/platform/bitunix"
)

// CancelScope selects which resting orders a cancel pass touches.
type CancelScope int

const (
	// CancelWorking cancels only NEW and partially filled entry orders.
	CancelWorking CancelScope = iota
	// CancelAll cancels every resting entry order regardless of status,
	// used when a reversal tears the whole side down.
	CancelAll
)

// Gateway is the slice of the exchange client the engine consumes.
type Gateway interface {
	PlaceOrder(ctx context.Context, req bitunix.PlaceOrderRequest) (bitunix.PlaceOrderResult, error)
	PlaceTpSl(ctx context.Context, req bitunix.TpSlOrderRequest) (string, error)
	ModifyTpSl(ctx context.Context, req bitunix.ModifyTpSlRequest) error
	CancelOrders(ctx context.Context, symbol string, orderIDs []string) error
	GetPendingOrders(ctx context.Context, symbol string) ([]bitunix.PendingOrder, error)
	FlashClose(ctx context.Context, positionID string) error
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
}

// EntryOrders reports what PlaceEntry submitted.
type EntryOrders struct {
	MarketOrderID string
	LimitOrderIDs []string
}

// Engine implements order execution against a Gateway.
type Engine struct {
	gw         Gateway
	autoAdjust bool
	logger     *slog.Logger
}

// New creates an execution Engine. autoAdjust controls whether an invalid
// protective price is moved to the nearest valid value instead of rejected.
func New(gw Gateway, autoAdjust bool, logger *slog.Logger) *Engine {
	return &Engine{
		gw:         gw,
		autoAdjust: autoAdjust,
		logger:     logger.With("component", "execution"),
	}
}

// accumulationWeights sizes the three zone limit orders relative to the base
// entry quantity: top, mid, and double weight at the bottom of the zone.
var accumulationWeights = [3]float64{1, 1, 2}

// PlaceEntry submits the entry for an accepted signal: one market order for
// the caller-adjusted quantity plus three accumulation limit orders across
// the signal's zone. A limit-order failure does not undo the market entry;
// partial ladders are reported alongside the error.
func (e *Engine) PlaceEntry(ctx context.Context, sig domain.SignalEvent, qty float64) (EntryOrders, error) {
	var out EntryOrders

	market := bitunix.PlaceOrderRequest{
		Symbol:    sig.Symbol,
		Qty:       fmtQty(qty),
		Side:      string(sig.Direction),
		OrderType: "MARKET",
		TradeSide: "OPEN",
		Effect:    "GTC",
	}
	err := withRetry(ctx, func() error {
		res, err := e.gw.PlaceOrder(ctx, market)
		if err != nil {
			return err
		}
		out.MarketOrderID = res.OrderID
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("execution: entry market order %s %s: %w", sig.Symbol, sig.Direction, err)
	}

	e.logger.Info("entry market order placed",
		"symbol", sig.Symbol, "direction", sig.Direction,
		"qty", qty, "order_id", out.MarketOrderID)

	entries := sig.ZoneEntries()
	for i, price := range entries {
		if price <= 0 {
			continue
		}
		limit := bitunix.PlaceOrderRequest{
			Symbol:    sig.Symbol,
			Qty:       fmtQty(domain.RoundQty(qty * accumulationWeights[i])),
			Price:     fmtPrice(price),
			Side:      string(sig.Direction),
			OrderType: "LIMIT",
			TradeSide: "OPEN",
			Effect:    "GTC",
		}
		err := withRetry(ctx, func() error {
			res, err := e.gw.PlaceOrder(ctx, limit)
			if err != nil {
				return err
			}
			out.LimitOrderIDs = append(out.LimitOrderIDs, res.OrderID)
			return nil
		})
		if err != nil {
			return out, fmt.Errorf("execution: accumulation limit %d at %.6f: %w", i+1, price, err)
		}
	}

	return out, nil
}

// PlaceTakeProfit places one TP rung against a position, returning the
// protective order id.
func (e *Engine) PlaceTakeProfit(ctx context.Context, symbol, positionID string, direction domain.Direction, price, qty float64) (string, error) {
	guarded, err := e.guardPrice(ctx, symbol, direction, true, price)
	if err != nil {
		return "", fmt.Errorf("execution: tp guard %s: %w", symbol, err)
	}

	req := bitunix.TpSlOrderRequest{
		Symbol:      symbol,
		PositionID:  positionID,
		TpPrice:     fmtPrice(guarded),
		TpStopType:  "MARK_PRICE",
		TpOrderType: "MARKET",
		TpQty:       fmtQty(qty),
	}

	var orderID string
	err = withRetry(ctx, func() error {
		id, err := e.gw.PlaceTpSl(ctx, req)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("execution: place tp %s at %.6f: %w", symbol, guarded, err)
	}
	return orderID, nil
}

// PlaceStopLoss places the SL trigger against a position, returning the
// protective order id.
func (e *Engine) PlaceStopLoss(ctx context.Context, symbol, positionID string, direction domain.Direction, price, qty float64) (string, error) {
	guarded, err := e.guardPrice(ctx, symbol, direction, false, price)
	if err != nil {
		return "", fmt.Errorf("execution: sl guard %s: %w", symbol, err)
	}

	req := bitunix.TpSlOrderRequest{
		Symbol:      symbol,
		PositionID:  positionID,
		SlPrice:     fmtPrice(guarded),
		SlStopType:  "MARK_PRICE",
		SlOrderType: "MARKET",
		SlQty:       fmtQty(qty),
	}

	var orderID string
	err = withRetry(ctx, func() error {
		id, err := e.gw.PlaceTpSl(ctx, req)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("execution: place sl %s at %.6f: %w", symbol, guarded, err)
	}
	return orderID, nil
}

// ModifyProtective rewrites a resting protective order's price and quantity
// in place, used for ladder progression and post-fill rebalancing.
func (e *Engine) ModifyProtective(ctx context.Context, symbol, orderID string, direction domain.Direction, isTP bool, price, qty float64) error {
	guarded, err := e.guardPrice(ctx, symbol, direction, isTP, price)
	if err != nil {
		return fmt.Errorf("execution: modify guard %s %s: %w", symbol, orderID, err)
	}

	req := bitunix.ModifyTpSlRequest{Symbol: symbol, OrderID: orderID}
	if isTP {
		req.TpPrice = fmtPrice(guarded)
		req.TpStopType = "MARK_PRICE"
		req.TpOrderType = "MARKET"
		req.TpQty = fmtQty(qty)
	} else {
		req.SlPrice = fmtPrice(guarded)
		req.SlStopType = "MARK_PRICE"
		req.SlOrderType = "MARKET"
		req.SlQty = fmtQty(qty)
	}

	err = withRetry(ctx, func() error {
		return e.gw.ModifyTpSl(ctx, req)
	})
	if err != nil {
		return fmt.Errorf("execution: modify %s %s to %.6f: %w", protectiveKind(isTP), orderID, guarded, err)
	}
	return nil
}

// CancelOpenOrders cancels resting entry orders for the symbol on the given
// side. It is used when the ladder commits (abandoning unfilled accumulation
// entries), when a position closes, and with CancelAll when a reversal
// clears the opposite side.
func (e *Engine) CancelOpenOrders(ctx context.Context, symbol string, direction domain.Direction, scope CancelScope) error {
	pending, err := e.gw.GetPendingOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("execution: list pending orders %s: %w", symbol, err)
	}

	var ids []string
	for _, o := range pending {
		if !sideMatches(direction, o.Side) {
			continue
		}
		if scope == CancelWorking && !orderWorking(o.Status) {
			continue
		}
		ids = append(ids, o.OrderID)
	}
	if len(ids) == 0 {
		return nil
	}

	err = withRetry(ctx, func() error {
		return e.gw.CancelOrders(ctx, symbol, ids)
	})
	if err != nil {
		return fmt.Errorf("execution: cancel %d orders %s: %w", len(ids), symbol, err)
	}

	e.logger.Info("open orders cancelled",
		"symbol", symbol, "direction", direction, "count", len(ids))
	return nil
}

// sideMatches accepts both side spellings the exchange reports on resting
// orders: BUY/SELL and LONG/SHORT.
func sideMatches(direction domain.Direction, side string) bool {
	if direction == domain.DirectionBuy {
		return side == "BUY" || side == "LONG"
	}
	return side == "SELL" || side == "SHORT"
}

// orderWorking reports whether an order is still NEW or partially filled.
func orderWorking(status string) bool {
	return strings.HasPrefix(status, "NEW") || strings.HasPrefix(status, "PART")
}

// FlashClose closes a position at market immediately, used by reversals.
func (e *Engine) FlashClose(ctx context.Context, positionID string) error {
	err := withRetry(ctx, func() error {
		return e.gw.FlashClose(ctx, positionID)
	})
	if err != nil {
		return fmt.Errorf("execution: flash close %s: %w", positionID, err)
	}
	return nil
}

func fmtQty(q float64) string {
	return strconv.FormatFloat(domain.RoundQty(q), 'f', -1, 64)
}

func fmtPrice(p float64) string {
	return strconv.FormatFloat(domain.RoundPrice(p), 'f', -1, 64)
}
