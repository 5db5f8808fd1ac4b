package reversal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

func openRecord(direction domain.Direction, interval string, qty float64) *domain.PositionRecord {
	return &domain.PositionRecord{
		Symbol:    "BTCUSDT",
		Direction: direction,
		Status:    domain.PositionStatusOpen,
		TotalQty:  qty,
		Interval:  interval,
	}
}

func TestDecideNoExistingPosition(t *testing.T) {
	d := Decide(nil, domain.DirectionBuy, "15m")
	assert.Equal(t, domain.ActionOpen, d.Action)
	assert.Zero(t, d.Qty)
}

func TestDecideIgnoresNonOpenRecords(t *testing.T) {
	rec := openRecord(domain.DirectionBuy, "1h", 0.5)
	rec.Status = domain.PositionStatusPending
	d := Decide(rec, domain.DirectionSell, "1h")
	assert.Equal(t, domain.ActionOpen, d.Action)

	rec.Status = domain.PositionStatusOpen
	rec.TotalQty = 0
	d = Decide(rec, domain.DirectionSell, "1h")
	assert.Equal(t, domain.ActionOpen, d.Action)
}

func TestDecideSameDirection(t *testing.T) {
	tests := []struct {
		name             string
		existingInterval string
		newInterval      string
		want             domain.ReversalAction
	}{
		{"finer signal ignored", "1h", "5m", domain.ActionIgnore},
		{"equal timeframe upgrades", "15m", "15m", domain.ActionUpgrade},
		{"coarser signal upgrades", "5m", "4h", domain.ActionUpgrade},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := openRecord(domain.DirectionBuy, tt.existingInterval, 0.8)
			d := Decide(rec, domain.DirectionBuy, tt.newInterval)
			assert.Equal(t, tt.want, d.Action)
			if tt.want == domain.ActionUpgrade {
				assert.Equal(t, 0.8, d.Qty)
			} else {
				assert.Zero(t, d.Qty)
			}
		})
	}
}

func TestDecideOppositeDirection(t *testing.T) {
	tests := []struct {
		name             string
		existingInterval string
		newInterval      string
		want             domain.ReversalAction
	}{
		{"equal timeframe reverses", "15m", "15m", domain.ActionReverse},
		{"coarser signal reverses", "5m", "1d", domain.ActionReverse},
		{"finer signal opens independently", "4h", "1m", domain.ActionOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := openRecord(domain.DirectionSell, tt.existingInterval, 1.2)
			d := Decide(rec, domain.DirectionBuy, tt.newInterval)
			assert.Equal(t, tt.want, d.Action)
			if tt.want == domain.ActionReverse {
				assert.Equal(t, 1.2, d.Qty)
			} else {
				assert.Zero(t, d.Qty)
			}
		})
	}
}

func TestDecideUnknownIntervalRanksLowest(t *testing.T) {
	// An unrecognized timeframe ranks below every configured one, so it
	// never displaces an existing position.
	rec := openRecord(domain.DirectionBuy, "1m", 0.3)
	d := Decide(rec, domain.DirectionSell, "7m")
	assert.Equal(t, domain.ActionOpen, d.Action)

	d = Decide(rec, domain.DirectionBuy, "7m")
	assert.Equal(t, domain.ActionIgnore, d.Action)
}
