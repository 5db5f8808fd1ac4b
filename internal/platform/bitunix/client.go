// Package bitunix implements the REST client and private websocket stream
// for the Bitunix futures exchange.
package bitunix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/bitunixbot/internal/crypto"
	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

const (
	pathPlaceOrder       = "/api/v1/futures/trade/place_order"
	pathCancelOrders     = "/api/v1/futures/trade/cancel_orders"
	pathPendingOrders    = "/api/v1/futures/trade/get_pending_orders"
	pathOrderDetail      = "/api/v1/futures/trade/get_order_detail"
	pathFlashClose       = "/api/v1/futures/trade/flash_close_position"
	pathPlaceTpSl        = "/api/v1/futures/tpsl/place_order"
	pathModifyTpSl       = "/api/v1/futures/tpsl/modify_order"
	pathPendingTpSl      = "/api/v1/futures/tpsl/get_pending_orders"
	pathPendingPositions = "/api/v1/futures/position/get_pending_positions"
)

// Client is the signed REST client for the Bitunix futures API.
type Client struct {
	baseURL    string
	auth       *crypto.Auth
	httpClient *http.Client
}

// NewClient creates a new Bitunix REST client.
//
// baseURL is the API root, e.g. "https://fapi.bitunix.com".
func NewClient(baseURL string, auth *crypto.Auth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PlaceOrder submits an entry or closing order and returns its order id.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	data, err := c.doSignedRequest(ctx, http.MethodPost, pathPlaceOrder, nil, req)
	if err != nil {
		return PlaceOrderResult{}, fmt.Errorf("bitunix: place order %s %s: %w", req.Symbol, req.Side, err)
	}

	var result PlaceOrderResult
	if err := json.Unmarshal(data, &result); err != nil {
		return PlaceOrderResult{}, fmt.Errorf("bitunix: decode order result: %w", err)
	}
	return result, nil
}

// CancelOrders cancels the given resting orders on a symbol.
func (c *Client) CancelOrders(ctx context.Context, symbol string, orderIDs []string) error {
	type cancelRef struct {
		OrderID string `json:"orderId"`
	}
	refs := make([]cancelRef, 0, len(orderIDs))
	for _, id := range orderIDs {
		refs = append(refs, cancelRef{OrderID: id})
	}

	body := struct {
		Symbol    string      `json:"symbol"`
		OrderList []cancelRef `json:"orderList"`
	}{Symbol: symbol, OrderList: refs}

	if _, err := c.doSignedRequest(ctx, http.MethodPost, pathCancelOrders, nil, body); err != nil {
		return fmt.Errorf("bitunix: cancel orders %s: %w", symbol, err)
	}
	return nil
}

// GetPendingOrders returns the resting entry orders for a symbol.
func (c *Client) GetPendingOrders(ctx context.Context, symbol string) ([]PendingOrder, error) {
	params := map[string]string{"symbol": symbol}

	data, err := c.doSignedRequest(ctx, http.MethodGet, pathPendingOrders, params, nil)
	if err != nil {
		return nil, fmt.Errorf("bitunix: pending orders %s: %w", symbol, err)
	}

	var resp pendingOrdersData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("bitunix: decode pending orders: %w", err)
	}
	return resp.OrderList, nil
}

// GetOrderDetail looks up a single order by id.
func (c *Client) GetOrderDetail(ctx context.Context, orderID string) (OrderDetail, error) {
	params := map[string]string{"orderId": orderID}

	data, err := c.doSignedRequest(ctx, http.MethodGet, pathOrderDetail, params, nil)
	if err != nil {
		return OrderDetail{}, fmt.Errorf("bitunix: order detail %s: %w", orderID, err)
	}

	var detail OrderDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return OrderDetail{}, fmt.Errorf("bitunix: decode order detail: %w", err)
	}
	return detail, nil
}

// FlashClose closes a position at market immediately.
func (c *Client) FlashClose(ctx context.Context, positionID string) error {
	body := struct {
		PositionID string `json:"positionId"`
	}{PositionID: positionID}

	if _, err := c.doSignedRequest(ctx, http.MethodPost, pathFlashClose, nil, body); err != nil {
		return fmt.Errorf("bitunix: flash close %s: %w", positionID, err)
	}
	return nil
}

// PlaceTpSl attaches a protective trigger to a position and returns the
// protective order id.
func (c *Client) PlaceTpSl(ctx context.Context, req TpSlOrderRequest) (string, error) {
	data, err := c.doSignedRequest(ctx, http.MethodPost, pathPlaceTpSl, nil, req)
	if err != nil {
		return "", fmt.Errorf("bitunix: place tpsl %s: %w", req.Symbol, err)
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("bitunix: decode tpsl result: %w", err)
	}
	return result.OrderID, nil
}

// ModifyTpSl rewrites an existing protective trigger in place.
func (c *Client) ModifyTpSl(ctx context.Context, req ModifyTpSlRequest) error {
	if _, err := c.doSignedRequest(ctx, http.MethodPost, pathModifyTpSl, nil, req); err != nil {
		return fmt.Errorf("bitunix: modify tpsl %s: %w", req.OrderID, err)
	}
	return nil
}

// GetPendingTpSl returns the resting protective orders for a symbol.
func (c *Client) GetPendingTpSl(ctx context.Context, symbol string) ([]PendingTpSl, error) {
	params := map[string]string{"symbol": symbol}

	data, err := c.doSignedRequest(ctx, http.MethodGet, pathPendingTpSl, params, nil)
	if err != nil {
		return nil, fmt.Errorf("bitunix: pending tpsl %s: %w", symbol, err)
	}

	var list []PendingTpSl
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("bitunix: decode pending tpsl: %w", err)
	}
	return list, nil
}

// GetPendingPositions returns every live position on the account. Pass an
// empty symbol for all symbols.
func (c *Client) GetPendingPositions(ctx context.Context, symbol string) ([]PendingPosition, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	data, err := c.doSignedRequest(ctx, http.MethodGet, pathPendingPositions, params, nil)
	if err != nil {
		return nil, fmt.Errorf("bitunix: pending positions: %w", err)
	}

	var list []PendingPosition
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("bitunix: decode pending positions: %w", err)
	}
	return list, nil
}

// doSignedRequest executes a signed API call and returns the envelope's data
// payload. params feed both the query string and the signature; reqBody, if
// non-nil, is marshaled as compact JSON.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, params map[string]string, reqBody any) ([]byte, error) {
	var (
		bodyBytes []byte
		err       error
	)
	if reqBody != nil {
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			if v != "" {
				q.Set(k, v)
			}
		}
		fullURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	nonce := crypto.Nonce()
	ts := crypto.TimestampMillis()
	sign := c.auth.SignREST(nonce, ts, crypto.CanonicalQuery(params), string(bodyBytes))

	req.Header.Set("api-key", c.auth.Key)
	req.Header.Set("sign", sign)
	req.Header.Set("nonce", nonce)
	req.Header.Set("timestamp", ts)
	req.Header.Set("language", "en-US")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return c.checkResponse(resp.StatusCode, respBody)
}

// checkResponse validates the HTTP status and the API-level code, returning
// the inner data payload on success.
func (c *Client) checkResponse(statusCode int, body []byte) ([]byte, error) {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrUnauthorized, statusCode, body)
	case statusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP 429: %s", domain.ErrRateLimited, body)
	case statusCode < 200 || statusCode >= 300:
		return nil, fmt.Errorf("HTTP %d: %s", statusCode, body)
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("api code %d: %s", env.Code, env.Msg)
	}
	return env.Data, nil
}
