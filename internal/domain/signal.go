package domain

import "time"

// SignalEvent is a parsed external trade signal. It is consumed at admission
// and not persisted beyond the audit log.
type SignalEvent struct {
	Symbol           string
	Direction        Direction
	EntryPrice       float64
	StopLoss         float64
	TakeProfits      []float64
	AccumulationZone [2]float64 // [top, bottom]
	Interval         string
	RequestedQty     float64
	ReceivedAt       time.Time
}

// ZoneEntries returns the three accumulation ladder prices: zone top, the
// midpoint, and zone bottom.
func (s SignalEvent) ZoneEntries() [3]float64 {
	top, bottom := s.AccumulationZone[0], s.AccumulationZone[1]
	return [3]float64{top, (top + bottom) / 2, bottom}
}

// SubmitResult reports the outcome of signal admission.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// FilterResult is the market filter collaborator's verdict on a signal.
type FilterResult struct {
	IsFalseSignal   bool
	ReferenceClose  float64
	ConvictionScore float64
}

// Admissible applies the admission threshold: a clean signal needs only a
// modest conviction score, while a signal flagged false can still be taken on
// very high conviction.
func (f FilterResult) Admissible() bool {
	if !f.IsFalseSignal {
		return f.ConvictionScore >= 0.2
	}
	return f.ConvictionScore >= 0.7
}

// ReversalAction is the resolution of a new signal against existing state.
type ReversalAction string

const (
	// ActionIgnore drops the signal: a coarser-timeframe position is not
	// diluted by a finer one.
	ActionIgnore ReversalAction = "ignore"
	// ActionUpgrade keeps the existing same-direction position and sizes
	// the new entry on top of it.
	ActionUpgrade ReversalAction = "upgrade"
	// ActionReverse flash-closes the opposite position and opens the new
	// direction with the combined quantity.
	ActionReverse ReversalAction = "reverse"
	// ActionOpen opens a fresh, independent position.
	ActionOpen ReversalAction = "open"
)

// Decision is the output of the reversal decision engine. Qty is the extra
// quantity contributed by the rules (absorbed opposite size for a reverse,
// carried size for an upgrade); the caller adds the requested quantity and
// any buffered loss offset.
type Decision struct {
	Action ReversalAction
	Qty    float64
}

// LossBufferEntry accumulates quantity and net loss from stop-loss closures
// for one (symbol, direction, interval), so a later entry or reversal can be
// upsized to recover it. Entries are deleted once fully offset.
type LossBufferEntry struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Interval  string    `json:"interval"`
	Qty       float64   `json:"qty"`
	PnL       float64   `json:"pnl"` // negative while a loss remains buffered
	UpdatedAt time.Time `json:"updated_at"`
}
