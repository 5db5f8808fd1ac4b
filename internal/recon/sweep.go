// Package recon is the correctness backstop: it periodically compares local
// position state against exchange truth, rebuilds records the engine lost,
// and repairs protective orders that drifted or went missing.
package recon

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/execution"
	"github.com/alanyoungcy/bitunixbot/internal/platform/bitunix"
)

// tolerance is the acceptable drift between a locally expected protective
// order and what actually rests on the exchange, for both price and
// quantity.
const tolerance = 0.01

// Gateway is the slice of the exchange client the sweep consumes.
type Gateway interface {
	GetPendingPositions(ctx context.Context, symbol string) ([]bitunix.PendingPosition, error)
	GetPendingTpSl(ctx context.Context, symbol string) ([]bitunix.PendingTpSl, error)
}

// Sweeper reconciles local state with the exchange.
type Sweeper struct {
	gw     Gateway
	store  domain.StateStore
	exec   *execution.Engine
	logger *slog.Logger
}

// New creates a Sweeper.
func New(gw Gateway, store domain.StateStore, exec *execution.Engine, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		gw:     gw,
		store:  store,
		exec:   exec,
		logger: logger.With("component", "recon"),
	}
}

// Run sweeps on a fixed interval until ctx is cancelled, with one immediate
// sweep at startup.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("initial sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass. Per-position failures are logged and
// do not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	live, err := s.gw.GetPendingPositions(ctx, "")
	if err != nil {
		return err
	}

	local, err := s.store.ListOpen(ctx)
	if err != nil {
		return err
	}
	localByKey := make(map[string]domain.PositionRecord, len(local))
	for _, rec := range local {
		localByKey[rec.Symbol+":"+string(rec.Direction)] = rec
	}

	for _, pos := range live {
		direction := domain.Direction(pos.DirectionString())
		rec, known := localByKey[pos.Symbol+":"+string(direction)]
		if !known {
			if err := s.adoptOrphan(ctx, pos, direction); err != nil {
				s.logger.Error("orphan adoption failed",
					"symbol", pos.Symbol, "position_id", pos.PositionID, "error", err)
			}
			continue
		}
		if err := s.repairDrift(ctx, pos, rec); err != nil {
			s.logger.Error("drift repair failed",
				"symbol", pos.Symbol, "position_id", pos.PositionID, "error", err)
		}
	}

	return nil
}

// adoptOrphan rebuilds a full record for a live position the engine has no
// memory of, reconstructing the TP ladder from the protective orders resting
// on the exchange.
func (s *Sweeper) adoptOrphan(ctx context.Context, pos bitunix.PendingPosition, direction domain.Direction) error {
	orders, err := s.gw.GetPendingTpSl(ctx, pos.Symbol)
	if err != nil {
		return err
	}

	rec := domain.NewPendingRecord(pos.Symbol, direction)
	rec.PositionID = pos.PositionID
	rec.Status = domain.PositionStatusOpen
	rec.EntryPrice = pos.AvgEntryPrice.Float()
	rec.TotalQty = domain.RoundQty(pos.PositionSize.Float())

	var tps []bitunix.PendingTpSl
	for _, o := range orders {
		if o.PositionID != pos.PositionID {
			continue
		}
		if o.IsStopLoss() {
			if o.SlPrice != nil {
				rec.StopLoss = o.SlPrice.Float()
			}
			rec.SLOrderID = o.OrderID
			continue
		}
		tps = append(tps, o)
	}

	// TP1 is the nearest target: ascending prices for a long, descending
	// for a short.
	sort.Slice(tps, func(i, j int) bool {
		if direction == domain.DirectionBuy {
			return tps[i].TpPrice.Float() < tps[j].TpPrice.Float()
		}
		return tps[i].TpPrice.Float() > tps[j].TpPrice.Float()
	})

	rec.Step = domain.MaxSteps - len(tps)
	if rec.Step < 0 {
		rec.Step = 0
	}
	rec.TPs = make([]float64, rec.Step)
	for i, o := range tps {
		rec.TPs = append(rec.TPs, o.TpPrice.Float())
		rec.TPOrders[rungKey(rec.Step+i)] = o.OrderID
	}

	if err := s.store.Update(ctx, pos.Symbol, direction, pos.PositionID, rec); err != nil {
		return err
	}

	s.logger.Info("orphaned position adopted",
		"symbol", pos.Symbol, "direction", direction,
		"position_id", pos.PositionID, "qty", rec.TotalQty,
		"rungs", len(tps), "step", rec.Step)
	return nil
}

// repairDrift compares the expected post-step rungs against the orders
// resting on the exchange and corrects anything off by more than the
// tolerance; a fully missing TP or SL is re-placed from scratch.
func (s *Sweeper) repairDrift(ctx context.Context, pos bitunix.PendingPosition, rec domain.PositionRecord) error {
	orders, err := s.gw.GetPendingTpSl(ctx, pos.Symbol)
	if err != nil {
		return err
	}

	var (
		slOrder *bitunix.PendingTpSl
		tps     []bitunix.PendingTpSl
	)
	for i, o := range orders {
		if o.PositionID != pos.PositionID {
			continue
		}
		if o.IsStopLoss() {
			slOrder = &orders[i]
			continue
		}
		tps = append(tps, o)
	}

	qty := domain.RoundQty(pos.PositionSize.Float())
	s.repairStop(ctx, pos.Symbol, &rec, slOrder, qty)
	s.repairRungs(ctx, pos.Symbol, &rec, tps, qty)
	return nil
}

func (s *Sweeper) repairStop(ctx context.Context, symbol string, rec *domain.PositionRecord, slOrder *bitunix.PendingTpSl, qty float64) {
	if rec.StopLoss <= 0 {
		return
	}
	if slOrder == nil {
		id, err := s.exec.PlaceStopLoss(ctx, symbol, rec.PositionID, rec.Direction, rec.StopLoss, qty)
		if err != nil {
			s.logger.Error("missing stop re-placement failed",
				"symbol", symbol, "error", err)
			return
		}
		rec.SLOrderID = id
		if err := s.store.Update(ctx, symbol, rec.Direction, rec.PositionID, *rec); err != nil {
			s.logger.Error("persist re-placed stop failed", "symbol", symbol, "error", err)
		}
		s.logger.Info("missing stop re-placed", "symbol", symbol, "price", rec.StopLoss)
		return
	}

	var restingPrice float64
	if slOrder.SlPrice != nil {
		restingPrice = slOrder.SlPrice.Float()
	}
	if math.Abs(restingPrice-rec.StopLoss) <= tolerance && math.Abs(slOrder.Qty.Float()-qty) <= tolerance {
		return
	}
	if err := s.exec.ModifyProtective(ctx, symbol, slOrder.OrderID, rec.Direction, false, rec.StopLoss, qty); err != nil {
		s.logger.Error("drifted stop correction failed", "symbol", symbol, "error", err)
		return
	}
	s.logger.Info("drifted stop corrected",
		"symbol", symbol, "resting", restingPrice, "expected", rec.StopLoss)
}

func (s *Sweeper) repairRungs(ctx context.Context, symbol string, rec *domain.PositionRecord, resting []bitunix.PendingTpSl, qty float64) {
	expected := rec.RemainingTPs()
	if len(expected) == 0 {
		return
	}

	sort.Slice(resting, func(i, j int) bool {
		if rec.Direction == domain.DirectionBuy {
			return resting[i].TpPrice.Float() < resting[j].TpPrice.Float()
		}
		return resting[i].TpPrice.Float() > resting[j].TpPrice.Float()
	})

	for i, price := range expected {
		rung := rec.Step + i
		wantQty := rec.RungQty(rung, qty)

		if i >= len(resting) {
			id, err := s.exec.PlaceTakeProfit(ctx, symbol, rec.PositionID, rec.Direction, price, wantQty)
			if err != nil {
				s.logger.Error("missing tp re-placement failed",
					"symbol", symbol, "rung", rung+1, "error", err)
				continue
			}
			rec.TPOrders[rungKey(rung)] = id
			if err := s.store.Update(ctx, symbol, rec.Direction, rec.PositionID, *rec); err != nil {
				s.logger.Error("persist re-placed tp failed", "symbol", symbol, "error", err)
			}
			s.logger.Info("missing tp re-placed",
				"symbol", symbol, "rung", rung+1, "price", price)
			continue
		}

		o := resting[i]
		if math.Abs(o.TpPrice.Float()-price) <= tolerance && math.Abs(o.Qty.Float()-wantQty) <= tolerance {
			continue
		}
		if err := s.exec.ModifyProtective(ctx, symbol, o.OrderID, rec.Direction, true, price, wantQty); err != nil {
			s.logger.Error("drifted tp correction failed",
				"symbol", symbol, "rung", rung+1, "error", err)
			continue
		}
		s.logger.Info("drifted tp corrected",
			"symbol", symbol, "rung", rung+1,
			"resting", o.TpPrice.Float(), "expected", price)
	}
}

func rungKey(i int) string {
	return fmt.Sprintf("TP%d", i+1)
}
