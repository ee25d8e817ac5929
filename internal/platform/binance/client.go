// Package binance is the REST and stream client for a Binance-style USDT-M
// futures venue. Signed calls carry a server-time-synchronized timestamp and
// a fixed receive window; a timed-out signed request leaves the order outcome
// unknown, so callers re-query status rather than assume either way.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nsavelyev/scalpbot/internal/crypto"
	"github.com/nsavelyev/scalpbot/internal/domain"
)

const (
	defaultBaseURL = "https://fapi.binance.com"
	defaultWSURL   = "wss://fstream.binance.com/ws"

	orderPath     = "/fapi/v1/order"
	algoOrderPath = "/fapi/v1/algo/order"

	// defaultRecvWindowMs is the receive window sent with signed calls
	// unless overridden.
	defaultRecvWindowMs = 5000
)

// Client is the REST client for the futures venue. It implements
// domain.Venue.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int
	httpClient *http.Client

	// clockOffset is venue time minus local time, captured by SyncClock.
	clockOffset time.Duration
}

// NewClient creates a REST client. baseURL may be empty to use the default
// production endpoint.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: defaultRecvWindowMs,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetRecvWindow overrides the receive window in milliseconds. Values at or
// below zero keep the default.
func (c *Client) SetRecvWindow(ms int) {
	if ms > 0 {
		c.recvWindow = ms
	}
}

// SyncClock fetches the venue server time and records the offset applied to
// every signed request timestamp. Run once at startup.
func (c *Client) SyncClock(ctx context.Context) error {
	before := time.Now()
	serverTime, err := c.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("binance: sync clock: %w", err)
	}
	// Split the round trip evenly; precision beyond that is inside the
	// receive window anyway.
	mid := before.Add(time.Since(before) / 2)
	c.clockOffset = serverTime.Sub(mid)
	return nil
}

// ServerTime returns the venue clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.doPublic(ctx, http.MethodGet, "/fapi/v1/time", nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("binance: server time: %w", err)
	}
	var resp serverTimeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("binance: decode server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime), nil
}

// SymbolFilters returns the tick and step increments for symbol.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (domain.SymbolFilters, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", params)
	if err != nil {
		return domain.SymbolFilters{}, fmt.Errorf("binance: exchange info: %w", err)
	}
	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SymbolFilters{}, fmt.Errorf("binance: decode exchange info: %w", err)
	}
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		out := domain.SymbolFilters{Symbol: symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				out.TickSize = f.TickSize
			case "LOT_SIZE":
				out.StepSize = f.StepSize
			}
		}
		if out.TickSize == "" || out.StepSize == "" {
			return domain.SymbolFilters{}, fmt.Errorf("binance: symbol %s missing price/lot filters", symbol)
		}
		return out, nil
	}
	return domain.SymbolFilters{}, fmt.Errorf("binance: symbol %s not found in exchange info", symbol)
}

// DepthSnapshot fetches a full book snapshot for symbol.
func (c *Client) DepthSnapshot(ctx context.Context, symbol string, limit int) (domain.DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	body, err := c.doPublic(ctx, http.MethodGet, "/fapi/v1/depth", params)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance: depth snapshot %s: %w", symbol, err)
	}
	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance: decode depth: %w", err)
	}
	bids, err := parseLevels(resp.Bids)
	if err != nil {
		return domain.DepthSnapshot{}, err
	}
	asks, err := parseLevels(resp.Asks)
	if err != nil {
		return domain.DepthSnapshot{}, err
	}
	return domain.DepthSnapshot{
		Symbol:       symbol,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: resp.LastUpdateID,
	}, nil
}

// PlaceOrder submits an order through the primary order endpoint.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	return c.placeOrder(ctx, orderPath, req)
}

// PlaceAlgoOrder submits a conditional order through the secondary endpoint,
// used when the primary endpoint rejects the stop order type.
func (c *Client) PlaceAlgoOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	return c.placeOrder(ctx, algoOrderPath, req)
}

func (c *Client) placeOrder(ctx context.Context, path string, req domain.OrderRequest) (domain.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	if req.Quantity != "" {
		params.Set("quantity", req.Quantity)
	}
	if req.Price != "" {
		params.Set("price", req.Price)
	}
	if req.StopPrice != "" {
		params.Set("stopPrice", req.StopPrice)
	}
	if req.TimeInForce != "" {
		params.Set("timeInForce", string(req.TimeInForce))
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	params.Set("newOrderRespType", "RESULT")

	body, err := c.doSigned(ctx, http.MethodPost, path, params)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: place order %s %s %s: %w", req.Symbol, req.Side, req.Type, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: decode order response: %w", err)
	}
	return domain.OrderAck{
		OrderID:     resp.OrderID,
		AlgoOrderID: resp.AlgoOrderID,
		Status:      domain.OrderStatus(resp.Status),
		AvgPrice:    parseFloat(resp.AvgPrice),
		ExecutedQty: parseFloat(resp.ExecutedQty),
	}, nil
}

// QueryOrder returns the current status snapshot for an order.
func (c *Client) QueryOrder(ctx context.Context, symbol string, orderID int64) (domain.OrderState, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.doSigned(ctx, http.MethodGet, orderPath, params)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("binance: query order %d: %w", orderID, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderState{}, fmt.Errorf("binance: decode order state: %w", err)
	}
	return domain.OrderState{
		OrderID:     resp.OrderID,
		Status:      domain.OrderStatus(resp.Status),
		Price:       parseFloat(resp.Price),
		AvgPrice:    parseFloat(resp.AvgPrice),
		OrigQty:     parseFloat(resp.OrigQty),
		ExecutedQty: parseFloat(resp.ExecutedQty),
		UpdateTime:  time.UnixMilli(resp.UpdateTime),
	}, nil
}

// QueryAlgoOrder returns the status snapshot for a conditional order. The
// algo endpoint keys on algoId, not orderId.
func (c *Client) QueryAlgoOrder(ctx context.Context, symbol string, algoID int64) (domain.OrderState, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("algoId", strconv.FormatInt(algoID, 10))

	body, err := c.doSigned(ctx, http.MethodGet, algoOrderPath, params)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("binance: query algo order %d: %w", algoID, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderState{}, fmt.Errorf("binance: decode algo order state: %w", err)
	}
	return domain.OrderState{
		OrderID:     resp.AlgoOrderID,
		Status:      domain.OrderStatus(resp.Status),
		Price:       parseFloat(resp.Price),
		AvgPrice:    parseFloat(resp.AvgPrice),
		OrigQty:     parseFloat(resp.OrigQty),
		ExecutedQty: parseFloat(resp.ExecutedQty),
		UpdateTime:  time.UnixMilli(resp.UpdateTime),
	}, nil
}

// CancelOrder cancels a single order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	if _, err := c.doSigned(ctx, http.MethodDelete, orderPath, params); err != nil {
		return fmt.Errorf("binance: cancel order %d: %w", orderID, err)
	}
	return nil
}

// CancelAlgoOrder cancels a single conditional order by algo id.
func (c *Client) CancelAlgoOrder(ctx context.Context, symbol string, algoID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("algoId", strconv.FormatInt(algoID, 10))

	if _, err := c.doSigned(ctx, http.MethodDelete, algoOrderPath, params); err != nil {
		return fmt.Errorf("binance: cancel algo order %d: %w", algoID, err)
	}
	return nil
}

// CancelAllOrders cancels every open order on the symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	if _, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params); err != nil {
		return fmt.Errorf("binance: cancel all orders %s: %w", symbol, err)
	}
	return nil
}

// PositionRisk returns the current net position for the symbol.
func (c *Client) PositionRisk(ctx context.Context, symbol string) (domain.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return domain.Position{}, fmt.Errorf("binance: position risk %s: %w", symbol, err)
	}
	var resp []positionRiskEntry
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Position{}, fmt.Errorf("binance: decode position risk: %w", err)
	}
	for _, p := range resp {
		if p.Symbol == symbol {
			return domain.Position{
				Symbol:      symbol,
				PositionAmt: parseFloat(p.PositionAmt),
				EntryPrice:  parseFloat(p.EntryPrice),
			}, nil
		}
	}
	// No entry means flat.
	return domain.Position{Symbol: symbol}, nil
}

// SetLeverage sets the account leverage for the symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	if _, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params); err != nil {
		return fmt.Errorf("binance: set leverage %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

// doPublic performs an unsigned request.
func (c *Client) doPublic(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, method, u, false)
}

// doSigned appends timestamp, recvWindow, and the HMAC signature, then
// performs the request with the API key header.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	ts := time.Now().Add(c.clockOffset).UnixMilli()
	params.Set("timestamp", strconv.FormatInt(ts, 10))
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))

	query := params.Encode()
	query += "&signature=" + crypto.SignQuery(c.apiSecret, query)

	return c.do(ctx, method, c.baseURL+path+"?"+query, true)
}

func (c *Client) do(ctx context.Context, method, fullURL string, signed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: request %s %s: %w", method, fullURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("binance: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if ve := parseAPIError(body); ve != nil {
			return nil, ve
		}
		return nil, fmt.Errorf("binance: http %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
