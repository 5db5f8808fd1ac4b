// Package reversal resolves a new signal against the existing position for
// its symbol, arbitrating by timeframe rank.
package reversal

import "github.com/alanyoungcy/bitunixbot/internal/domain"

// Decide resolves a new signal against existing state. It is a pure
// function: no I/O, no clock.
//
// With an existing same-direction position, a finer timeframe is ignored
// and an equal or coarser one upgrades the position, which continues with
// its quantity.
// With an existing opposite position, an equal or coarser timeframe reverses
// it (the returned quantity is the absorbed opposite size; the caller adds
// the requested quantity and any buffered loss), while a finer timeframe
// opens independently and leaves the opposite position untouched. With no
// existing position the signal simply opens.
func Decide(existing *domain.PositionRecord, newDirection domain.Direction, newInterval string) domain.Decision {
	if existing == nil || existing.Status != domain.PositionStatusOpen || existing.TotalQty <= 0 {
		return domain.Decision{Action: domain.ActionOpen}
	}

	existingRank := domain.IntervalRank(existing.Interval)
	newRank := domain.IntervalRank(newInterval)

	if existing.Direction == newDirection {
		if existingRank > newRank {
			return domain.Decision{Action: domain.ActionIgnore}
		}
		return domain.Decision{Action: domain.ActionUpgrade, Qty: existing.TotalQty}
	}

	if existingRank <= newRank {
		return domain.Decision{Action: domain.ActionReverse, Qty: existing.TotalQty}
	}
	return domain.Decision{Action: domain.ActionOpen}
}
