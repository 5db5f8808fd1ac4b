package bitunix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const (
	pathTickers     = "/api/v1/futures/market/tickers"
	pathKline       = "/api/v1/futures/market/kline"
	pathFundingRate = "/api/v1/futures/market/funding_rate"
)

// GetMarkPrice returns the current mark price for a symbol via the public
// tickers endpoint.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbols", symbol)

	data, err := c.doPublicRequest(ctx, pathTickers, params)
	if err != nil {
		return 0, fmt.Errorf("bitunix: mark price %s: %w", symbol, err)
	}

	var tickers []Ticker
	if err := json.Unmarshal(data, &tickers); err != nil {
		return 0, fmt.Errorf("bitunix: decode tickers: %w", err)
	}
	for _, t := range tickers {
		if t.Symbol == symbol {
			return t.MarkPrice.Float(), nil
		}
	}
	return 0, fmt.Errorf("bitunix: no ticker for %s", symbol)
}

// GetKlines returns up to limit recent candles for the symbol at the given
// timeframe, newest last. klineType selects MARK_PRICE or LAST_PRICE candles.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int, klineType string) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	if klineType != "" {
		params.Set("type", klineType)
	}

	data, err := c.doPublicRequest(ctx, pathKline, params)
	if err != nil {
		return nil, fmt.Errorf("bitunix: klines %s %s: %w", symbol, interval, err)
	}

	var klines []Kline
	if err := json.Unmarshal(data, &klines); err != nil {
		return nil, fmt.Errorf("bitunix: decode klines: %w", err)
	}
	return klines, nil
}

// GetFundingRate returns the current funding rate for a symbol.
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	data, err := c.doPublicRequest(ctx, pathFundingRate, params)
	if err != nil {
		return 0, fmt.Errorf("bitunix: funding rate %s: %w", symbol, err)
	}

	var fr fundingRateData
	if err := json.Unmarshal(data, &fr); err != nil {
		return 0, fmt.Errorf("bitunix: decode funding rate: %w", err)
	}
	return fr.FundingRate.Float(), nil
}

// doPublicRequest executes an unsigned GET against a public market endpoint
// and returns the envelope's data payload.
func (c *Client) doPublicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return c.checkResponse(resp.StatusCode, body)
}
