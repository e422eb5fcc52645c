// Package binance adapts the Binance spot REST API and kline WebSocket
// streams to the bot's executor and market data ports.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"sniperbot/internal/execution"
	"sniperbot/internal/model"
)

const (
	TestnetBaseURL = "https://testnet.binance.vision"
	MainnetBaseURL = "https://api.binance.com"

	recvWindow      = "5000"
	quoteAsset      = "USDT"
	balanceCacheTTL = 60 * time.Second
)

var closeOrderNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sniperbot/close-order"))

// Config configures a Client.
type Config struct {
	BaseURL           string // overrides the testnet/mainnet choice when set
	Testnet           bool
	APIKey            string
	SecretKey         string
	QuantityPrecision int32
	RequestsPerSecond float64
	Timeout           time.Duration
}

// APIError is an error body returned by the exchange.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: http %d code %d: %s", e.Status, e.Code, e.Msg)
}

// Client is a Binance spot REST client. It implements execution.Executor.
type Client struct {
	baseURL   string
	apiKey    string
	secretKey string
	precision int32

	http    *http.Client
	limiter *rate.Limiter
	breaker *Breaker
	log     zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	balance     float64
	balanceAt   time.Time
	balanceGood bool
}

var _ execution.Executor = (*Client)(nil)

// NewClient creates a client for cfg.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = MainnetBaseURL
		if cfg.Testnet {
			base = TestnetBaseURL
		}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		precision: cfg.QuantityPrecision,
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)),
		breaker:   NewBreaker(5, 30*time.Second),
		log:       log.With().Str("component", "binance").Logger(),
		now:       time.Now,
	}
}

// Breaker exposes the client's breaker for health reporting.
func (c *Client) Breaker() *Breaker { return c.breaker }

// FormatQuantity truncates qty to the configured precision.
func (c *Client) FormatQuantity(qty float64) string {
	return decimal.NewFromFloat(qty).Truncate(c.precision).String()
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
}

// avgPrice returns the volume-weighted fill price, or 0 when unknown.
func (r orderResponse) avgPrice() (price, qty float64) {
	q, err1 := decimal.NewFromString(r.ExecutedQty)
	quote, err2 := decimal.NewFromString(r.CummulativeQuoteQty)
	if err1 != nil || err2 != nil || q.IsZero() {
		return 0, 0
	}
	return quote.Div(q).InexactFloat64(), q.InexactFloat64()
}

// PlaceOrder submits a MARKET order for intent. The signal id is used as
// the client order id, so a resubmitted intent cannot double-fill.
func (c *Client) PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderResult, error) {
	side := "BUY"
	if intent.Side == model.SideShort {
		side = "SELL"
	}
	res, err := c.marketOrder(ctx, intent.Symbol, side, intent.Quantity, intent.SignalID)
	if err != nil {
		return model.OrderResult{}, &model.ExecutionFailure{Op: model.OpPlaceOrder, Symbol: intent.Symbol, Err: err}
	}
	price, qty := res.avgPrice()
	out := model.OrderResult{
		OrderID:     strconv.FormatInt(res.OrderID, 10),
		FilledPrice: price,
		FilledQty:   qty,
		FilledAt:    time.UnixMilli(res.TransactTime).UTC(),
	}
	c.log.Info().Str("symbol", intent.Symbol).Str("side", side).Str("order_id", out.OrderID).
		Float64("price", price).Float64("qty", qty).Msg("order filled")
	return out, nil
}

// CloseOrder flattens a position with an opposite-side MARKET order.
func (c *Client) CloseOrder(ctx context.Context, req model.CloseRequest) (model.Confirmation, error) {
	side := "SELL"
	if req.Side == model.SideShort {
		side = "BUY"
	}
	clientID := uuid.NewSHA1(closeOrderNamespace, []byte(req.Symbol+"|"+req.OrderID)).String()
	res, err := c.marketOrder(ctx, req.Symbol, side, req.Quantity, clientID)
	if err != nil {
		return model.Confirmation{}, &model.ExecutionFailure{Op: model.OpCloseOrder, Symbol: req.Symbol, Err: err}
	}
	price, _ := res.avgPrice()
	if price == 0 {
		price = req.Price
	}
	return model.Confirmation{OrderID: strconv.FormatInt(res.OrderID, 10), Price: price}, nil
}

func (c *Client) marketOrder(ctx context.Context, symbol, side string, qty float64, clientID string) (orderResponse, error) {
	q := c.FormatQuantity(qty)
	if d, _ := decimal.NewFromString(q); !d.IsPositive() {
		return orderResponse{}, fmt.Errorf("refusing to place order of size %s for %s", q, symbol)
	}

	params := url.Values{}
	params.Set("symbol", model.NormalizeSymbol(symbol))
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", q)
	params.Set("newClientOrderId", clientID)
	params.Set("newOrderRespType", "RESULT")

	var res orderResponse
	if err := c.signed(ctx, http.MethodPost, "/api/v3/order", params, &res); err != nil {
		return orderResponse{}, err
	}
	c.invalidateBalance()
	return res, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// AccountBalance returns the free USDT balance, cached for 60s.
func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	c.mu.Lock()
	if c.balanceGood && c.now().Sub(c.balanceAt) < balanceCacheTTL {
		b := c.balance
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	bal, err := c.fetchBalance(ctx)
	if err != nil {
		return 0, &model.ExecutionFailure{Op: model.OpBalance, Err: err}
	}

	c.mu.Lock()
	c.balance, c.balanceAt, c.balanceGood = bal, c.now(), true
	c.mu.Unlock()
	return bal, nil
}

// RefreshBalance forces a balance fetch and updates the cache.
func (c *Client) RefreshBalance(ctx context.Context) (float64, error) {
	c.invalidateBalance()
	return c.AccountBalance(ctx)
}

func (c *Client) invalidateBalance() {
	c.mu.Lock()
	c.balanceGood = false
	c.mu.Unlock()
}

func (c *Client) fetchBalance(ctx context.Context) (float64, error) {
	var acct accountResponse
	if err := c.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &acct); err != nil {
		return 0, err
	}
	for _, b := range acct.Balances {
		if b.Asset == quoteAsset {
			d, err := decimal.NewFromString(b.Free)
			if err != nil {
				return 0, fmt.Errorf("parse %s balance %q: %w", quoteAsset, b.Free, err)
			}
			return d.InexactFloat64(), nil
		}
	}
	return 0, nil
}

// Klines downloads up to limit closed klines of symbol starting at start
// (zero means the most recent). interval uses exchange notation ("1m").
func (c *Client) Klines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", model.NormalizeSymbol(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}

	var rows [][]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false, &rows); err != nil {
		return nil, err
	}

	out := make([]model.Candle, 0, len(rows))
	now := c.now()
	for _, row := range rows {
		cdl, closeTime, err := parseKlineRow(model.NormalizeSymbol(symbol), row)
		if err != nil {
			return nil, err
		}
		// Skip the still-forming kline
		if closeTime.After(now) {
			continue
		}
		out = append(out, cdl)
	}
	return out, nil
}

func parseKlineRow(symbol string, row []json.RawMessage) (model.Candle, time.Time, error) {
	if len(row) < 7 {
		return model.Candle{}, time.Time{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Candle{}, time.Time{}, fmt.Errorf("kline open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return model.Candle{}, time.Time{}, fmt.Errorf("kline close time: %w", err)
	}
	var f [5]float64
	for i := range f {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return model.Candle{}, time.Time{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Candle{}, time.Time{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		f[i] = v
	}
	return model.Candle{
		Symbol: symbol,
		TS:     time.UnixMilli(openMs).UTC(),
		Open:   f[0], High: f[1], Low: f[2], Close: f[3], Volume: f[4],
	}, time.UnixMilli(closeMs).UTC(), nil
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	if c.apiKey == "" || c.secretKey == "" {
		return errors.New("binance: API credentials not configured")
	}
	params.Set("recvWindow", recvWindow)
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	return c.do(ctx, method, path, params, true, out)
}

// do sends one request through the limiter and breaker. Transport errors
// and 5xx/429 responses count toward the breaker; other API errors do not.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, sign bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	query := params.Encode()
	if sign {
		query += "&signature=" + Sign(c.secretKey, query)
	}

	return c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if sign {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode}
			if json.Unmarshal(body, apiErr) != nil || apiErr.Msg == "" {
				apiErr.Msg = string(body)
			}
			return apiErr
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}, isOutage)
}

func isOutage(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests || apiErr.Status == 418
	}
	return !errors.Is(err, context.Canceled)
}
