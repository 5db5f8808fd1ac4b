// Package domain defines the core types, stream events, and store/cache
// interfaces shared by every component of the bitunix bot. Concrete
// implementations live in internal/store, internal/cache, and
// internal/platform.
package domain

import (
	"math"
	"time"
)

// Direction is the side of a tradable exposure.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// PositionStatus tracks the lifecycle of a position record.
type PositionStatus string

const (
	// PositionStatusPending is the placeholder written when a signal is
	// accepted but the exchange has not yet confirmed the position.
	PositionStatusPending PositionStatus = "PENDING"
	PositionStatusOpen    PositionStatus = "OPEN"
	PositionStatusClosed  PositionStatus = "CLOSED"
)

// MaxSteps is the number of rungs in the take-profit ladder.
const MaxSteps = 4

// DefaultQtyDistribution is the fixed weight of each TP rung: 70% of the
// position exits at TP1, 10% at each of TP2..TP4. Weights must sum to 1.0.
var DefaultQtyDistribution = []float64{0.7, 0.1, 0.1, 0.1}

// QtyPrecision is the decimal precision quantities are rounded to before
// submission, matching the exchange's contract size granularity.
const QtyPrecision = 3

// PositionRecord is the unit of state for one tradable exposure. At most one
// record may be OPEN per (symbol, direction), plus at most one PENDING
// placeholder awaiting exchange confirmation.
type PositionRecord struct {
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	PositionID string         `json:"position_id"` // empty until the exchange confirms
	Status     PositionStatus `json:"status"`

	EntryPrice float64 `json:"entry_price"`
	TotalQty   float64 `json:"total_qty"` // remaining quantity, shrinks as rungs fill
	Step       int     `json:"step"`      // 0..MaxSteps, rungs already consumed

	TPs             []float64 `json:"tps"` // ascending for BUY, descending for SELL
	StopLoss        float64   `json:"stop_loss"`
	QtyDistribution []float64 `json:"qty_distribution"`

	TPOrders  map[string]string `json:"tp_orders"` // "TP1".."TP4" -> exchange order id
	SLOrderID string            `json:"sl_order_id"`

	Interval  string    `json:"interval"` // timeframe that opened/last upgraded the position
	CreatedAt time.Time `json:"created_at"`
}

// NewPendingRecord returns the PENDING placeholder for a freshly accepted
// signal. The exchange's OPEN event promotes it with a real position id.
func NewPendingRecord(symbol string, direction Direction) PositionRecord {
	return PositionRecord{
		Symbol:          symbol,
		Direction:       direction,
		Status:          PositionStatusPending,
		QtyDistribution: append([]float64(nil), DefaultQtyDistribution...),
		TPOrders:        map[string]string{},
		CreatedAt:       time.Now().UTC(),
	}
}

// RungQty returns the quantity assigned to rung i (0-based) for a total
// position quantity, rounded to QtyPrecision.
func (p PositionRecord) RungQty(i int, totalQty float64) float64 {
	dist := p.QtyDistribution
	if len(dist) != MaxSteps {
		dist = DefaultQtyDistribution
	}
	if i < 0 || i >= len(dist) {
		return 0
	}
	return RoundQty(totalQty * dist[i])
}

// RemainingTPs returns the rung prices not yet consumed by the ladder.
func (p PositionRecord) RemainingTPs() []float64 {
	if p.Step >= len(p.TPs) {
		return nil
	}
	return p.TPs[p.Step:]
}

// RoundQty rounds a quantity to the exchange's contract precision.
func RoundQty(q float64) float64 {
	pow := math.Pow10(QtyPrecision)
	return math.Round(q*pow) / pow
}

// RoundPrice rounds a price to six decimals, the finest tick the exchange
// reports on its private stream.
func RoundPrice(p float64) float64 {
	return math.Round(p*1e6) / 1e6
}
