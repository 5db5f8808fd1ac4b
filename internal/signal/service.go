package signal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/execution"
	"github.com/alanyoungcy/bitunixbot/internal/reversal"
)

// lockTTL bounds how long one admission may serialize its (symbol,
// direction); it doubles as the duplicate-signal window.
const lockTTL = 5 * time.Second

// Validator is the market filter collaborator.
type Validator interface {
	Validate(ctx context.Context, sig domain.SignalEvent) (domain.FilterResult, error)
}

// Config carries the admission-time trading parameters.
type Config struct {
	// DefaultQty sizes entries whose alert carried no quantity override.
	DefaultQty float64
	// MaxDailyLoss halts all new admissions once the day's realized net
	// P&L falls below its negative. Zero disables the breaker.
	MaxDailyLoss float64
}

// Service runs the admission pipeline for incoming signals.
type Service struct {
	cfg     Config
	store   domain.StateStore
	exec    *execution.Engine
	filter  Validator
	limiter domain.SignalLimiter
	lock    domain.LockManager
	buffer  domain.LossBufferStore
	pnl     domain.PnLStore
	audit   domain.SignalAuditStore
	logger  *slog.Logger
}

// New creates a signal Service.
func New(cfg Config, store domain.StateStore, exec *execution.Engine, filter Validator,
	limiter domain.SignalLimiter, lock domain.LockManager, buffer domain.LossBufferStore,
	pnl domain.PnLStore, audit domain.SignalAuditStore, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		exec:    exec,
		filter:  filter,
		limiter: limiter,
		lock:    lock,
		buffer:  buffer,
		pnl:     pnl,
		audit:   audit,
		logger:  logger.With("component", "signal"),
	}
}

// Submit runs a parsed signal through the admission pipeline: the daily loss
// breaker, the per-timeframe rate limiter, the duplicate lock, the market
// filter, and the reversal decision, then places the entry. A fresh signal
// writes the PENDING record the stream's OPEN event will promote; an upgrade
// adds onto the existing open position instead.
func (s *Service) Submit(ctx context.Context, sig domain.SignalEvent) domain.SubmitResult {
	log := s.logger.With(
		"symbol", sig.Symbol, "direction", sig.Direction, "interval", sig.Interval)

	if blocked, net := s.dailyLossExceeded(ctx); blocked {
		log.Warn("daily loss limit reached, signal blocked", "net_pnl", net)
		s.logAudit(ctx, sig, 0, "daily loss limit", false)
		return domain.SubmitResult{Reason: "daily loss limit reached"}
	}

	allowed, err := s.limiter.Allow(ctx, sig.Symbol, sig.Direction, sig.Interval)
	if err != nil {
		log.Warn("limiter error, admitting", "error", err)
	} else if !allowed {
		log.Info("signal rate limited")
		s.logAudit(ctx, sig, 0, "rate limited", false)
		return domain.SubmitResult{Reason: "rate limited"}
	}

	unlock, err := s.lock.Acquire(ctx, sig.Symbol+":"+string(sig.Direction), lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.Info("duplicate signal dropped")
			return domain.SubmitResult{Reason: "duplicate signal"}
		}
		log.Warn("lock error, admitting", "error", err)
		unlock = func() {}
	}
	// Rejections release the lock immediately. A successful admission
	// leaves it to expire with its TTL so identical alerts arriving
	// inside the window collapse into this one.
	release := unlock
	defer func() {
		if release != nil {
			release()
		}
	}()

	verdict, err := s.filter.Validate(ctx, sig)
	if err != nil {
		log.Error("market filter failed", "error", err)
		s.logAudit(ctx, sig, 0, "filter error: "+err.Error(), false)
		return domain.SubmitResult{Reason: "market filter unavailable"}
	}
	if !verdict.Admissible() {
		log.Warn("signal rejected by market filter",
			"false_signal", verdict.IsFalseSignal, "score", verdict.ConvictionScore)
		s.logAudit(ctx, sig, verdict.ConvictionScore, "false signal", false)
		return domain.SubmitResult{Reason: "false signal"}
	}

	extraQty, upgraded, reason, reject := s.resolveExisting(ctx, sig, log)
	if reject {
		s.logAudit(ctx, sig, verdict.ConvictionScore, reason, false)
		return domain.SubmitResult{Reason: reason}
	}

	qty := sig.RequestedQty
	if qty <= 0 {
		qty = s.cfg.DefaultQty
	}
	qty = domain.RoundQty(qty + extraQty + s.bufferedQty(ctx, sig.Symbol, sig.Direction))

	// An upgrade adds quantity to the live position; its open record,
	// resting protective set, and step stay authoritative and the
	// quantity-increase event rebalances the ladder.
	if !upgraded {
		rec := domain.NewPendingRecord(sig.Symbol, sig.Direction)
		rec.EntryPrice = sig.EntryPrice
		rec.TPs = append([]float64(nil), sig.TakeProfits...)
		rec.StopLoss = sig.StopLoss
		rec.Interval = sig.Interval
		if err := s.store.Update(ctx, sig.Symbol, sig.Direction, "", rec); err != nil {
			log.Error("pending record write failed", "error", err)
			s.logAudit(ctx, sig, verdict.ConvictionScore, "state write failed", false)
			return domain.SubmitResult{Reason: "state unavailable"}
		}
	}

	if _, err := s.exec.PlaceEntry(ctx, sig, qty); err != nil {
		log.Error("entry placement failed", "error", err)
		s.logAudit(ctx, sig, verdict.ConvictionScore, "entry failed: "+err.Error(), false)
		return domain.SubmitResult{Reason: "entry placement failed"}
	}

	release = nil
	log.Info("signal executed", "qty", qty, "score", verdict.ConvictionScore)
	s.logAudit(ctx, sig, verdict.ConvictionScore, "executed", true)
	return domain.SubmitResult{Accepted: true}
}

// resolveExisting applies the reversal decision against both directions'
// open records. It returns the extra quantity the new entry absorbs from a
// reversal, whether the same-direction position was upgraded in place, or a
// rejection reason.
func (s *Service) resolveExisting(ctx context.Context, sig domain.SignalEvent, log *slog.Logger) (extraQty float64, upgraded bool, reason string, reject bool) {
	same, err := s.store.Get(ctx, sig.Symbol, sig.Direction)
	if err == nil {
		d := reversal.Decide(&same, sig.Direction, sig.Interval)
		switch d.Action {
		case domain.ActionIgnore:
			log.Info("signal ignored, coarser timeframe holds the position",
				"existing_interval", same.Interval)
			return 0, false, "existing position outranks signal", true
		case domain.ActionUpgrade:
			// The position continues under the new timeframe; only the
			// entry quantity is added on top of it.
			previous := same.Interval
			same.Interval = sig.Interval
			if err := s.store.Update(ctx, sig.Symbol, sig.Direction, same.PositionID, same); err != nil {
				log.Error("upgrade persist failed", "error", err)
				return 0, false, "state unavailable", true
			}
			log.Info("position upgraded in place",
				"position_id", same.PositionID, "held_qty", same.TotalQty,
				"previous_interval", previous, "interval", sig.Interval)
			upgraded = true
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Warn("same-direction lookup failed", "error", err)
	}

	opp, err := s.store.Get(ctx, sig.Symbol, sig.Direction.Opposite())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn("opposite-direction lookup failed", "error", err)
		}
		return extraQty, upgraded, "", false
	}

	d := reversal.Decide(&opp, sig.Direction, sig.Interval)
	if d.Action != domain.ActionReverse {
		return extraQty, upgraded, "", false
	}

	log.Info("reversing opposite position",
		"position_id", opp.PositionID, "absorbed_qty", d.Qty,
		"existing_interval", opp.Interval)
	if err := s.exec.CancelOpenOrders(ctx, sig.Symbol, sig.Direction.Opposite(), execution.CancelAll); err != nil {
		log.Error("opposite order cancel failed", "error", err)
	}
	if err := s.exec.FlashClose(ctx, opp.PositionID); err != nil {
		log.Error("flash close failed, reversal aborted", "error", err)
		return 0, false, "reversal close failed", true
	}
	if err := s.store.Delete(ctx, sig.Symbol, sig.Direction.Opposite(), opp.PositionID); err != nil {
		log.Error("opposite record cleanup failed", "error", err)
	}
	return extraQty + d.Qty, upgraded, "", false
}

// bufferedQty sums the outstanding loss-buffer quantity for (symbol,
// direction) across every timeframe.
func (s *Service) bufferedQty(ctx context.Context, symbol string, direction domain.Direction) float64 {
	var total float64
	for _, interval := range []string{"1m", "3m", "5m", "15m", "30m", "1h", "4h", "1d"} {
		entry, err := s.buffer.Get(ctx, symbol, direction, interval)
		if err != nil {
			continue
		}
		total += entry.Qty
	}
	return total
}

// dailyLossExceeded reports whether today's realized net P&L has fallen past
// the configured limit.
func (s *Service) dailyLossExceeded(ctx context.Context) (bool, float64) {
	if s.cfg.MaxDailyLoss <= 0 {
		return false, 0
	}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	net, err := s.pnl.NetSince(ctx, midnight)
	if err != nil {
		s.logger.Warn("daily pnl lookup failed, breaker skipped", "error", err)
		return false, 0
	}
	return net <= -s.cfg.MaxDailyLoss, net
}

func (s *Service) logAudit(ctx context.Context, sig domain.SignalEvent, score float64, reason string, executed bool) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, domain.SignalAudit{
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryPrice: sig.EntryPrice,
		Interval:   sig.Interval,
		Reason:     reason,
		Score:      score,
		Executed:   executed,
		SignalTime: sig.ReceivedAt,
	}); err != nil {
		s.logger.Warn("signal audit write failed",
			"symbol", sig.Symbol, "error", err)
	}
}
