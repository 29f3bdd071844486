package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/filters"
)

const (
	// BinanceFuturesBaseURL is the production futures API URL
	BinanceFuturesBaseURL = "https://fapi.binance.com"
	// BinanceFuturesTestnetURL is the testnet futures API URL
	BinanceFuturesTestnetURL = "https://testnet.binancefuture.com"
)

// Retry configuration for API calls
const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
	recvWindowMs   = 5000
)

// apiError is the venue's error envelope
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Msg)
}

// unknown-order cancel rejections
const codeUnknownOrder = -2011

// BinanceClient implements Client against the Binance USD-M futures API
// using HMAC-signed requests.
type BinanceClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client

	mu          sync.RWMutex
	filterCache map[string]filters.SymbolFilters
}

var _ Client = (*BinanceClient)(nil)

// NewBinanceClient creates a futures client. Keys are trimmed; stray
// whitespace breaks signature generation.
func NewBinanceClient(apiKey, secretKey string, testnet bool, timeout time.Duration) *BinanceClient {
	baseURL := BinanceFuturesBaseURL
	if testnet {
		baseURL = BinanceFuturesTestnetURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BinanceClient{
		apiKey:      strings.TrimSpace(apiKey),
		secretKey:   strings.TrimSpace(secretKey),
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		filterCache: make(map[string]filters.SymbolFilters),
	}
}

// ==================== TRADING ====================

// PlaceOrder validates and places an order.
func (c *BinanceClient) PlaceOrder(ctx context.Context, params OrderParams) (*OrderAck, error) {
	if err := ValidateOrderParams(params); err != nil {
		return nil, err
	}

	req := map[string]string{
		"symbol": params.Symbol,
		"side":   string(params.Side),
		"type":   string(params.Type),
	}
	if !params.Quantity.IsZero() {
		req["quantity"] = params.Quantity.String()
	}
	if !params.Price.IsZero() {
		req["price"] = params.Price.String()
	}
	if !params.StopPrice.IsZero() {
		req["stopPrice"] = params.StopPrice.String()
	}
	if params.TimeInForce != "" {
		req["timeInForce"] = string(params.TimeInForce)
	}
	if params.PositionSide != "" {
		req["positionSide"] = string(params.PositionSide)
	}
	if params.WorkingType != "" {
		req["workingType"] = string(params.WorkingType)
	}
	if params.ReduceOnly {
		req["reduceOnly"] = "true"
	}
	if params.ClosePosition {
		req["closePosition"] = "true"
	}
	if params.ClientOrderID != "" {
		req["newClientOrderId"] = params.ClientOrderID
	}

	body, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", req)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	var resp struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("place order: parse response: %w", err)
	}
	return &OrderAck{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:  resp.Status,
	}, nil
}

// CancelOrder cancels an open order. An unknown order id maps to
// ErrOrderNotFound so callers can treat it as already-cancelled.
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	req := map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}
	_, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", req)
	if err != nil {
		var ae *apiError
		if asAPIError(err, &ae) && ae.Code == codeUnknownOrder {
			return ErrOrderNotFound
		}
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// OpenOrders lists open orders for a symbol (empty for all symbols).
func (c *BinanceClient) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	req := map[string]string{}
	if symbol != "" {
		req["symbol"] = symbol
	}
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", req)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}

	var raw []struct {
		OrderID     int64           `json:"orderId"`
		Symbol      string          `json:"symbol"`
		Side        string          `json:"side"`
		Type        string          `json:"type"`
		Status      string          `json:"status"`
		Price       decimal.Decimal `json:"price"`
		StopPrice   decimal.Decimal `json:"stopPrice"`
		OrigQty     decimal.Decimal `json:"origQty"`
		ExecutedQty decimal.Decimal `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("open orders: parse response: %w", err)
	}

	orders := make([]Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, Order{
			OrderID:     strconv.FormatInt(o.OrderID, 10),
			Symbol:      o.Symbol,
			Side:        Side(o.Side),
			Type:        OrderType(o.Type),
			Status:      o.Status,
			Price:       o.Price,
			StopPrice:   o.StopPrice,
			OrigQty:     o.OrigQty,
			ExecutedQty: o.ExecutedQty,
		})
	}
	return orders, nil
}

// Positions lists positions for a symbol (empty for all symbols).
func (c *BinanceClient) Positions(ctx context.Context, symbol string) ([]Position, error) {
	req := map[string]string{}
	if symbol != "" {
		req["symbol"] = symbol
	}
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", req)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}

	var raw []struct {
		Symbol      string          `json:"symbol"`
		PositionAmt decimal.Decimal `json:"positionAmt"`
		EntryPrice  decimal.Decimal `json:"entryPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("positions: parse response: %w", err)
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, Position{
			Symbol:      p.Symbol,
			PositionAmt: p.PositionAmt,
			EntryPrice:  p.EntryPrice,
		})
	}
	return positions, nil
}

// Balance returns the free balance of an asset.
func (c *BinanceClient) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance: %w", err)
	}

	var raw []struct {
		Asset            string          `json:"asset"`
		AvailableBalance decimal.Decimal `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("balance: parse response: %w", err)
	}
	for _, b := range raw {
		if b.Asset == asset {
			return b.AvailableBalance, nil
		}
	}
	return decimal.Zero, nil
}

// SymbolFilters returns the trading filters for a symbol. Exchange info is
// fetched once and cached; filters change rarely.
func (c *BinanceClient) SymbolFilters(ctx context.Context, symbol string) (filters.SymbolFilters, error) {
	c.mu.RLock()
	if f, ok := c.filterCache[symbol]; ok {
		c.mu.RUnlock()
		return f, nil
	}
	c.mu.RUnlock()

	body, err := c.publicRequest(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return filters.SymbolFilters{}, fmt.Errorf("exchange info: %w", err)
	}

	var info struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return filters.SymbolFilters{}, fmt.Errorf("exchange info: parse response: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		sf := filters.SymbolFilters{Symbol: s.Symbol, QuoteAsset: s.QuoteAsset}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				sf.TickSize, _ = decimal.NewFromString(f.TickSize)
			case "LOT_SIZE":
				sf.StepSize, _ = decimal.NewFromString(f.StepSize)
				sf.MinQty, _ = decimal.NewFromString(f.MinQty)
			case "MIN_NOTIONAL":
				sf.MinNotional, _ = decimal.NewFromString(f.Notional)
			}
		}
		c.filterCache[s.Symbol] = sf
	}

	f, ok := c.filterCache[symbol]
	if !ok {
		return filters.SymbolFilters{}, fmt.Errorf("exchange info: symbol %s not found", symbol)
	}
	return f, nil
}

// ==================== HTTP ====================

func (c *BinanceClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BinanceClient) signedRequest(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	values.Set("recvWindow", strconv.Itoa(recvWindowMs))
	query := values.Encode()
	query += "&signature=" + c.sign(query)

	return c.do(ctx, method, path, query, true)
}

func (c *BinanceClient) publicRequest(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return c.do(ctx, http.MethodGet, path, values.Encode(), false)
}

// do executes a request with capped exponential backoff on transient
// failures. Venue error envelopes are returned as *apiError and never
// retried except for rate limiting.
func (c *BinanceClient) do(ctx context.Context, method, path, query string, signed bool) ([]byte, error) {
	endpoint := c.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}

	var lastErr error
	delay := baseRetryDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if signed {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Code != 0 {
			lastErr = &ae
		} else {
			lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
		}

		// Retry only server-side and rate-limit failures
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func asAPIError(err error, target **apiError) bool {
	for err != nil {
		if ae, ok := err.(*apiError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
