// Package ladder drives the position lifecycle from private-stream events:
// PENDING to OPEN with protective orders, rung-by-rung take-profit
// progression with a trailing stop, and closure with P&L accounting.
package ladder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/execution"
)

// breakevenFraction shifts the stop partway from entry toward the first
// target after TP1 fills. The offset is 3/7 of the rung distance scaled by
// 0.2, which locks in a sliver of profit without sitting inside normal
// noise.
const breakevenFraction = (3.0 / 7.0) * 0.2

// Notifier pushes human-readable lifecycle events to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// Machine applies stream events to position records and keeps protective
// orders consistent with each transition.
type Machine struct {
	store    domain.StateStore
	exec     *execution.Engine
	pnl      domain.PnLStore
	buffer   domain.LossBufferStore
	notifier Notifier
	logger   *slog.Logger
}

// New creates a ladder Machine. notifier may be nil.
func New(store domain.StateStore, exec *execution.Engine, pnl domain.PnLStore, buffer domain.LossBufferStore, notifier Notifier, logger *slog.Logger) *Machine {
	return &Machine{
		store:    store,
		exec:     exec,
		pnl:      pnl,
		buffer:   buffer,
		notifier: notifier,
		logger:   logger.With("component", "ladder"),
	}
}

// HandleEvent applies one stream event. Every failure, including a panic in
// a handler, is logged with the raw event and swallowed so the stream
// listener survives to process the next event.
func (m *Machine) HandleEvent(ctx context.Context, ev domain.StreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked",
				"panic", r, "channel", ev.Channel, "raw", string(ev.Raw))
		}
	}()

	var err error
	switch {
	case ev.PositionOpen != nil:
		err = m.handleOpen(ctx, *ev.PositionOpen)
	case ev.PositionUpdate != nil:
		err = m.handleUpdate(ctx, *ev.PositionUpdate)
	case ev.TpSlFill != nil:
		err = m.handleFill(ctx, *ev.TpSlFill)
	case ev.PositionClose != nil:
		err = m.handleClose(ctx, *ev.PositionClose)
	default:
		return
	}
	if err != nil {
		m.logger.Error("event handling failed",
			"error", err, "channel", ev.Channel, "raw", string(ev.Raw))
	}
}

// handleOpen promotes the PENDING placeholder to OPEN and places the full
// protective set: the stop for the whole quantity and one TP order per
// configured rung. Rungs without a configured price are skipped and logged.
func (m *Machine) handleOpen(ctx context.Context, ev domain.PositionOpen) error {
	rec, err := m.store.GetOrCreate(ctx, ev.Symbol, ev.Direction, ev.PositionID)
	if err != nil {
		return fmt.Errorf("ladder: open %s %s: %w", ev.Symbol, ev.Direction, err)
	}

	rec.PositionID = ev.PositionID
	rec.Status = domain.PositionStatusOpen
	rec.EntryPrice = ev.AvgEntryPrice()
	rec.TotalQty = domain.RoundQty(ev.Qty)
	rec.Step = 0
	if rec.TPOrders == nil {
		rec.TPOrders = map[string]string{}
	}

	m.logger.Info("position opened",
		"symbol", ev.Symbol, "direction", ev.Direction,
		"position_id", ev.PositionID, "entry", rec.EntryPrice, "qty", rec.TotalQty)

	if rec.StopLoss > 0 {
		slID, err := m.exec.PlaceStopLoss(ctx, ev.Symbol, ev.PositionID, ev.Direction, rec.StopLoss, rec.TotalQty)
		if err != nil {
			// Reconciliation re-places missing protection on its next pass.
			m.logger.Error("stop-loss placement failed, left for reconciliation",
				"symbol", ev.Symbol, "error", err)
		} else {
			rec.SLOrderID = slID
		}
	} else {
		m.logger.Warn("no stop configured, position unprotected",
			"symbol", ev.Symbol, "direction", ev.Direction)
	}

	for i := 0; i < domain.MaxSteps; i++ {
		if i >= len(rec.TPs) || rec.TPs[i] <= 0 {
			m.logger.Warn("tp rung unconfigured, skipped",
				"symbol", ev.Symbol, "rung", i+1)
			continue
		}
		qty := rec.RungQty(i, rec.TotalQty)
		tpID, err := m.exec.PlaceTakeProfit(ctx, ev.Symbol, ev.PositionID, ev.Direction, rec.TPs[i], qty)
		if err != nil {
			m.logger.Error("tp placement failed, left for reconciliation",
				"symbol", ev.Symbol, "rung", i+1, "error", err)
			continue
		}
		rec.TPOrders[rungKey(i)] = tpID
	}

	if err := m.store.Update(ctx, ev.Symbol, ev.Direction, ev.PositionID, rec); err != nil {
		return fmt.Errorf("ladder: persist open %s %s: %w", ev.Symbol, ev.Direction, err)
	}

	m.notify(ctx, "Position opened", fmt.Sprintf("%s %s qty %.3f @ %.6f",
		ev.Symbol, ev.Direction, rec.TotalQty, rec.EntryPrice))
	return nil
}

// handleUpdate rebalances the ladder after an accumulation limit fills: each
// remaining TP rung is resized against the new total, the stop covers the
// new total, and the entry price is recomputed from the exchange's fill
// economics.
func (m *Machine) handleUpdate(ctx context.Context, ev domain.PositionUpdate) error {
	rec, err := m.store.Get(ctx, ev.Symbol, ev.Direction)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("update for unknown position, left for reconciliation",
				"symbol", ev.Symbol, "direction", ev.Direction, "position_id", ev.PositionID)
			return nil
		}
		return fmt.Errorf("ladder: update %s %s: %w", ev.Symbol, ev.Direction, err)
	}

	newTotal := domain.RoundQty(ev.Qty)
	if newTotal <= rec.TotalQty {
		// Quantity decreases arrive via tpsl fill events, not here.
		return nil
	}

	rec.EntryPrice = ev.AvgEntryPrice()
	rec.TotalQty = newTotal

	for i := rec.Step; i < domain.MaxSteps && i < len(rec.TPs); i++ {
		orderID, ok := rec.TPOrders[rungKey(i)]
		if !ok || rec.TPs[i] <= 0 {
			continue
		}
		qty := rec.RungQty(i, newTotal)
		if err := m.exec.ModifyProtective(ctx, ev.Symbol, orderID, ev.Direction, true, rec.TPs[i], qty); err != nil {
			m.logger.Error("tp rebalance failed, left for reconciliation",
				"symbol", ev.Symbol, "rung", i+1, "error", err)
		}
	}

	if rec.SLOrderID != "" && rec.StopLoss > 0 {
		if err := m.exec.ModifyProtective(ctx, ev.Symbol, rec.SLOrderID, ev.Direction, false, rec.StopLoss, newTotal); err != nil {
			m.logger.Error("sl rebalance failed, left for reconciliation",
				"symbol", ev.Symbol, "error", err)
		}
	}

	if err := m.store.Update(ctx, ev.Symbol, ev.Direction, rec.PositionID, rec); err != nil {
		return fmt.Errorf("ladder: persist update %s %s: %w", ev.Symbol, ev.Direction, err)
	}

	m.logger.Info("ladder rebalanced after accumulation fill",
		"symbol", ev.Symbol, "direction", ev.Direction,
		"total_qty", newTotal, "entry", rec.EntryPrice)
	return nil
}

// handleFill advances the ladder one rung: the stop trails to the new level,
// the consumed quantity leaves the record, and on the first rung the
// remaining accumulation entries are abandoned.
func (m *Machine) handleFill(ctx context.Context, ev domain.TpSlFill) error {
	rec, err := m.store.Get(ctx, ev.Symbol, ev.Direction)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("fill for unknown position",
				"symbol", ev.Symbol, "direction", ev.Direction, "position_id", ev.PositionID)
			return nil
		}
		return fmt.Errorf("ladder: fill %s %s: %w", ev.Symbol, ev.Direction, err)
	}
	if rec.Step >= domain.MaxSteps || rec.Step >= len(rec.TPs) {
		return nil
	}

	trigger := rec.TPs[rec.Step]
	newStop := NextStop(rec, trigger)

	if rec.Step == 0 {
		// The ladder is committed; unfilled zone entries are abandoned.
		if err := m.exec.CancelOpenOrders(ctx, ev.Symbol, ev.Direction, execution.CancelWorking); err != nil {
			m.logger.Error("abandoning accumulation entries failed",
				"symbol", ev.Symbol, "error", err)
		}
	}

	filled := domain.RoundQty(ev.FilledQty)
	if filled <= 0 {
		filled = rec.RungQty(rec.Step, rec.TotalQty)
	}
	remaining := domain.RoundQty(rec.TotalQty - filled)
	if remaining < 0 {
		remaining = 0
	}

	delete(rec.TPOrders, rungKey(rec.Step))
	rec.Step++
	rec.TotalQty = remaining
	rec.StopLoss = newStop

	if rec.SLOrderID != "" && remaining > 0 {
		if err := m.exec.ModifyProtective(ctx, ev.Symbol, rec.SLOrderID, ev.Direction, false, newStop, remaining); err != nil {
			m.logger.Error("stop trail failed, left for reconciliation",
				"symbol", ev.Symbol, "step", rec.Step, "error", err)
		}
	}

	if err := m.store.Update(ctx, ev.Symbol, ev.Direction, rec.PositionID, rec); err != nil {
		return fmt.Errorf("ladder: persist fill %s %s: %w", ev.Symbol, ev.Direction, err)
	}

	m.logger.Info("ladder advanced",
		"symbol", ev.Symbol, "direction", ev.Direction,
		"step", rec.Step, "new_stop", newStop, "remaining_qty", remaining)

	m.notify(ctx, "Target filled", fmt.Sprintf("%s %s TP%d @ %.6f, stop -> %.6f",
		ev.Symbol, ev.Direction, rec.Step, trigger, newStop))
	return nil
}

// handleClose finishes the lifecycle: open orders are cancelled, realized
// P&L is persisted, a loss feeds the recovery buffer for the same direction
// while a profit shrinks the opposite direction's buffer, and the record is
// removed.
func (m *Machine) handleClose(ctx context.Context, ev domain.PositionClose) error {
	if ev.Qty > 0 {
		return nil
	}

	rec, err := m.store.Get(ctx, ev.Symbol, ev.Direction)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("ladder: close %s %s: %w", ev.Symbol, ev.Direction, err)
	}
	known := err == nil

	if err := m.exec.CancelOpenOrders(ctx, ev.Symbol, ev.Direction, execution.CancelWorking); err != nil {
		m.logger.Error("cancel on close failed",
			"symbol", ev.Symbol, "error", err)
	}

	// Only a strictly positive result counts as profit.
	kind := "LOSS"
	if ev.RealizedPnL > 0 {
		kind = "PROFIT"
	}
	if err := m.pnl.Log(ctx, domain.PnLRecord{
		Symbol:     ev.Symbol,
		Direction:  ev.Direction,
		PositionID: ev.PositionID,
		Kind:       kind,
		PnL:        ev.RealizedPnL,
		ClosedAt:   ev.CTime,
	}); err != nil {
		m.logger.Error("pnl log failed", "symbol", ev.Symbol, "error", err)
	}

	switch {
	case ev.RealizedPnL < 0 && known:
		if err := m.buffer.Accumulate(ctx, ev.Symbol, ev.Direction, rec.Interval, rec.TotalQty, ev.RealizedPnL); err != nil {
			m.logger.Error("loss buffer accumulate failed",
				"symbol", ev.Symbol, "error", err)
		}
	case ev.RealizedPnL > 0:
		// Profit recycling: realized gains pay down the opposite side's
		// buffered losses.
		if err := m.buffer.Offset(ctx, ev.Symbol, ev.Direction.Opposite(), ev.RealizedPnL); err != nil {
			m.logger.Error("loss buffer offset failed",
				"symbol", ev.Symbol, "error", err)
		}
	}

	if known {
		rec.Status = domain.PositionStatusClosed
		rec.TotalQty = 0
		if err := m.store.Update(ctx, ev.Symbol, ev.Direction, rec.PositionID, rec); err != nil {
			m.logger.Error("persist close failed", "symbol", ev.Symbol, "error", err)
		}
		if err := m.store.Delete(ctx, ev.Symbol, ev.Direction, rec.PositionID); err != nil {
			m.logger.Error("state cleanup failed", "symbol", ev.Symbol, "error", err)
		}
	}

	m.logger.Info("position closed",
		"symbol", ev.Symbol, "direction", ev.Direction,
		"position_id", ev.PositionID, "realized_pnl", ev.RealizedPnL)

	m.notify(ctx, "Position closed", fmt.Sprintf("%s %s realized %.4f",
		ev.Symbol, ev.Direction, ev.RealizedPnL))
	return nil
}

// NextStop computes the stop for the next step. After the first rung the
// stop moves to a breakeven-biased level strictly between entry and the hit
// target; afterwards it trails to the previous rung's price.
func NextStop(rec domain.PositionRecord, trigger float64) float64 {
	if rec.Step == 0 {
		return domain.RoundPrice(rec.EntryPrice + (trigger-rec.EntryPrice)*breakevenFraction)
	}
	return rec.TPs[rec.Step-1]
}

func (m *Machine) notify(ctx context.Context, title, message string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, title, message)
}

func rungKey(i int) string {
	return fmt.Sprintf("TP%d", i+1)
}
