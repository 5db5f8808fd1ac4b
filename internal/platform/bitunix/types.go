package bitunix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Number is a float64 that unmarshals from either a JSON number or a quoted
// numeric string. The futures API mixes both representations freely.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" || string(data) == `""` {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("bitunix: parse number %q: %w", s, err)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Float returns the plain float64 value.
func (n Number) Float() float64 { return float64(n) }

// apiEnvelope is the common REST response wrapper.
type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// PlaceOrderRequest submits a new entry or closing order.
type PlaceOrderRequest struct {
	Symbol     string `json:"symbol"`
	Qty        string `json:"qty"`
	Price      string `json:"price,omitempty"`
	Side       string `json:"side"`      // BUY or SELL
	OrderType  string `json:"orderType"` // MARKET or LIMIT
	TradeSide  string `json:"tradeSide"` // OPEN or CLOSE
	Effect     string `json:"effect"`    // GTC
	ClientID   string `json:"clientId,omitempty"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

// PlaceOrderResult is the order id returned for an accepted order.
type PlaceOrderResult struct {
	OrderID  string `json:"orderId"`
	ClientID string `json:"clientId"`
}

// TpSlOrderRequest places a protective trigger against a position. The API
// binds one trigger per call; either the TP fields or the SL fields are set.
type TpSlOrderRequest struct {
	Symbol     string `json:"symbol"`
	PositionID string `json:"positionId"`

	TpPrice     string `json:"tpPrice,omitempty"`
	TpStopType  string `json:"tpStopType,omitempty"` // MARK_PRICE
	TpOrderType string `json:"tpOrderType,omitempty"`
	TpQty       string `json:"tpQty,omitempty"`

	SlPrice     string `json:"slPrice,omitempty"`
	SlStopType  string `json:"slStopType,omitempty"`
	SlOrderType string `json:"slOrderType,omitempty"`
	SlQty       string `json:"slQty,omitempty"`
}

// ModifyTpSlRequest adjusts an existing protective order in place.
type ModifyTpSlRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"orderId"`

	TpPrice     string `json:"tpPrice,omitempty"`
	TpStopType  string `json:"tpStopType,omitempty"`
	TpOrderType string `json:"tpOrderType,omitempty"`
	TpQty       string `json:"tpQty,omitempty"`

	SlPrice     string `json:"slPrice,omitempty"`
	SlStopType  string `json:"slStopType,omitempty"`
	SlOrderType string `json:"slOrderType,omitempty"`
	SlQty       string `json:"slQty,omitempty"`
}

// PendingOrder is one resting entry order.
type PendingOrder struct {
	OrderID string `json:"orderId"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Status  string `json:"status"` // NEW, PART_FILLED, ...
	Price   Number `json:"price"`
	Qty     Number `json:"qty"`
}

// pendingOrdersData wraps the pending order list response.
type pendingOrdersData struct {
	OrderList []PendingOrder `json:"orderList"`
}

// PendingTpSl is one resting protective order. TpPrice is nil for a pure
// stop-loss order.
type PendingTpSl struct {
	OrderID    string  `json:"orderId"`
	PositionID string  `json:"positionId"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	TpPrice    *Number `json:"tpPrice"`
	SlPrice    *Number `json:"slPrice"`
	Price      Number  `json:"price"`
	Qty        Number  `json:"quantity"`
}

// IsStopLoss reports whether this protective order carries only a stop.
func (o PendingTpSl) IsStopLoss() bool { return o.TpPrice == nil }

// PendingPosition is one live position as reported by the exchange.
type PendingPosition struct {
	PositionID    string `json:"positionId"`
	Symbol        string `json:"symbol"`
	Side          int    `json:"side"` // 1 = long, 2 = short
	AvgEntryPrice Number `json:"avgEntryPrice"`
	PositionSize  Number `json:"positionSize"`
}

// DirectionString maps the numeric side to BUY/SELL.
func (p PendingPosition) DirectionString() string {
	if p.Side == 1 {
		return "BUY"
	}
	return "SELL"
}

// OrderDetail is the lookup result for a single order.
type OrderDetail struct {
	OrderID  string `json:"orderId"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Status   string `json:"status"`
	Price    Number `json:"price"`
	Qty      Number `json:"qty"`
	TradeQty Number `json:"tradeQty"`
	AvgPrice Number `json:"avgPrice"`
}

// Ticker is one row of the public tickers endpoint.
type Ticker struct {
	Symbol    string `json:"symbol"`
	MarkPrice Number `json:"markPrice"`
	LastPrice Number `json:"lastPrice"`
}

// Kline is one candle from the public kline endpoint.
type Kline struct {
	Time    int64  `json:"time"`
	Open    Number `json:"open"`
	High    Number `json:"high"`
	Low     Number `json:"low"`
	Close   Number `json:"close"`
	BaseVol Number `json:"baseVol"`
}

// fundingRateData wraps the funding rate response.
type fundingRateData struct {
	Symbol      string `json:"symbol"`
	FundingRate Number `json:"fundingRate"`
}

// wsEnvelope is the raw private-stream message wrapper, discriminated by the
// channel tag.
type wsEnvelope struct {
	Ch   string          `json:"ch"`
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// wsPositionData is the payload on the position channel.
type wsPositionData struct {
	Event       string `json:"event"` // OPEN, UPDATE, CLOSE
	Symbol      string `json:"symbol"`
	Side        string `json:"side"` // LONG or SHORT
	PositionID  string `json:"positionId"`
	Qty         Number `json:"qty"`
	Margin      Number `json:"margin"`
	Leverage    Number `json:"leverage"`
	Fee         Number `json:"fee"`
	RealizedPNL Number `json:"realizedPNL"`
	CTime       string `json:"ctime"`
}

// wsTpSlData is the payload on the tpsl channel.
type wsTpSlData struct {
	Event      string `json:"event"`  // CLOSE when a trigger executes
	Status     string `json:"status"` // FILLED once done
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	PositionID string `json:"positionId"`
	TpQty      Number `json:"tpQty"`
	SlQty      Number `json:"slQty"`
}

// wsLoginArg and wsSubscribeArg are the handshake payloads.
type wsLoginArg struct {
	APIKey    string `json:"apiKey"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Sign      string `json:"sign"`
}

type wsSubscribeArg struct {
	Ch string `json:"ch"`
}

type wsCommand struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
	Ping int64  `json:"ping,omitempty"`
}
