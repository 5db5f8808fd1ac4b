package domain

import "time"

// StreamEvent is one decoded message from the exchange's private stream.
// The raw stream is a tagged JSON envelope discriminated by channel, event,
// and status; the platform layer decodes it into exactly one of the variant
// fields below, so downstream consumers never touch untyped payloads.
type StreamEvent struct {
	Channel string
	Raw     []byte

	PositionOpen   *PositionOpen
	PositionUpdate *PositionUpdate
	PositionClose  *PositionClose
	TpSlFill       *TpSlFill
}

// PositionOpen signals that the exchange has opened a position for a
// previously submitted entry order.
type PositionOpen struct {
	Symbol     string
	Direction  Direction
	PositionID string
	Qty        float64
	Margin     float64
	Leverage   float64
	Fee        float64
	CTime      time.Time
}

// AvgEntryPrice derives the weighted average entry from the exchange's
// margin/leverage/fee fields.
func (e PositionOpen) AvgEntryPrice() float64 {
	if e.Qty == 0 {
		return 0
	}
	return RoundPrice((e.Margin*e.Leverage + e.Fee) / e.Qty)
}

// PositionUpdate reports a quantity change on an open position, typically an
// accumulation-zone limit order filling after the initial entry.
type PositionUpdate struct {
	Symbol     string
	Direction  Direction
	PositionID string
	Qty        float64
	Margin     float64
	Leverage   float64
	Fee        float64
	CTime      time.Time
}

// AvgEntryPrice derives the weighted average entry after the fill.
func (e PositionUpdate) AvgEntryPrice() float64 {
	if e.Qty == 0 {
		return 0
	}
	return RoundPrice((e.Margin*e.Leverage + e.Fee) / e.Qty)
}

// PositionClose reports that the position has gone flat on the exchange.
type PositionClose struct {
	Symbol      string
	Direction   Direction
	PositionID  string
	Qty         float64 // zero for a full close
	RealizedPnL float64
	CTime       time.Time
}

// TpSlFill reports a filled take-profit or stop-loss trigger.
type TpSlFill struct {
	Symbol     string
	Direction  Direction
	PositionID string
	FilledQty  float64
	CTime      time.Time
}
