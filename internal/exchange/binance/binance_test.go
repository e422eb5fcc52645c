package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sniperbot/internal/model"
)

func TestSign_ReferenceVector(t *testing.T) {
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	msg := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	if got := Sign(secret, msg); got != want {
		t.Errorf("Sign = %s, want %s", got, want)
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL: srv.URL, APIKey: "key", SecretKey: "secret",
		QuantityPrecision: 3, RequestsPerSecond: 1000,
	}, zerolog.Nop())
	return c
}

// verifySignature checks the trailing signature against the rest of the query.
func verifySignature(t *testing.T, r *http.Request) {
	t.Helper()
	raw := r.URL.RawQuery
	i := strings.LastIndex(raw, "&signature=")
	if i < 0 {
		t.Fatalf("unsigned request: %s", raw)
	}
	if got, want := raw[i+len("&signature="):], Sign("secret", raw[:i]); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
	if r.Header.Get("X-MBX-APIKEY") != "key" {
		t.Errorf("missing api key header")
	}
	if r.URL.Query().Get("recvWindow") != "5000" {
		t.Errorf("recvWindow = %s", r.URL.Query().Get("recvWindow"))
	}
}

func TestClient_PlaceOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v3/order" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		verifySignature(t, r)
		q := r.URL.Query()
		if q.Get("symbol") != "ETHUSDT" || q.Get("side") != "SELL" || q.Get("type") != "MARKET" {
			t.Errorf("params = %v", q)
		}
		if q.Get("quantity") != "1.234" {
			t.Errorf("quantity should be truncated to 3 places, got %s", q.Get("quantity"))
		}
		if q.Get("newClientOrderId") != "sig-1" {
			t.Errorf("client order id = %s", q.Get("newClientOrderId"))
		}
		io.WriteString(w, `{"symbol":"ETHUSDT","orderId":42,"transactTime":1709294400000,
			"executedQty":"1.234","cummulativeQuoteQty":"2468.000","status":"FILLED"}`)
	})

	res, err := c.PlaceOrder(context.Background(), model.OrderIntent{
		Symbol: "ETH/USDT", Side: model.SideShort, Quantity: 1.23456, EntryPrice: 2000, SignalID: "sig-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.OrderID != "42" || res.FilledPrice != 2000 || res.FilledQty != 1.234 {
		t.Errorf("result = %+v", res)
	}
}

func TestClient_PlaceOrderRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-2010,"msg":"Account has insufficient balance"}`)
	})

	_, err := c.PlaceOrder(context.Background(), model.OrderIntent{Symbol: "ETHUSDT", Side: model.SideLong, Quantity: 1})
	var ef *model.ExecutionFailure
	if !errors.As(err, &ef) || ef.Op != model.OpPlaceOrder {
		t.Fatalf("expected ExecutionFailure, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -2010 {
		t.Errorf("expected APIError -2010, got %v", err)
	}
	if c.Breaker().State() != BreakerClosed {
		t.Error("a rejected order must not trip the breaker")
	}
}

func TestClient_ZeroQuantityRefused(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })
	_, err := c.PlaceOrder(context.Background(), model.OrderIntent{Symbol: "ETHUSDT", Side: model.SideLong, Quantity: 0.0004})
	if err == nil || calls.Load() != 0 {
		t.Errorf("sub-precision quantity should be refused locally: err=%v calls=%d", err, calls.Load())
	}
}

func TestClient_CloseOrderUsesOppositeSide(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("side"); got != "SELL" {
			t.Errorf("closing a long should SELL, got %s", got)
		}
		io.WriteString(w, `{"orderId":43,"executedQty":"0","cummulativeQuoteQty":"0"}`)
	})
	conf, err := c.CloseOrder(context.Background(), model.CloseRequest{
		OrderID: "42", Symbol: "ETHUSDT", Side: model.SideLong, Quantity: 1, Price: 1960,
	})
	if err != nil {
		t.Fatal(err)
	}
	if conf.OrderID != "43" || conf.Price != 1960 {
		t.Errorf("confirmation = %+v", conf)
	}
}

func TestClient_AccountBalanceCached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		verifySignature(t, r)
		io.WriteString(w, `{"balances":[{"asset":"BTC","free":"1"},{"asset":"USDT","free":"10000.50","locked":"0"}]}`)
	})
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		bal, err := c.AccountBalance(context.Background())
		if err != nil || bal != 10000.5 {
			t.Fatalf("balance = %v, %v", bal, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected one fetch within the TTL, got %d", calls.Load())
	}

	now = now.Add(61 * time.Second)
	c.AccountBalance(context.Background())
	if calls.Load() != 2 {
		t.Errorf("expected refetch after TTL, got %d", calls.Load())
	}
}

func TestClient_Klines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "1m" || r.URL.Query().Get("signature") != "" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		io.WriteString(w, `[
			[1709294400000,"2000.0","2010.5","1995.0","2005.0","12.5",1709294459999,"0",1,"0","0","0"],
			[1709294460000,"2005.0","2006.0","2001.0","2002.0","3.0",1709294519999,"0",1,"0","0","0"]
		]`)
	})
	c.now = func() time.Time { return time.UnixMilli(1709294500000) }

	candles, err := c.Klines(context.Background(), "ETH/USDT", "1m", time.Time{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 1 {
		t.Fatalf("forming kline should be skipped, got %d candles", len(candles))
	}
	got := candles[0]
	if got.Symbol != "ETHUSDT" || got.High != 2010.5 || got.Volume != 12.5 || !got.TS.Equal(time.UnixMilli(1709294400000)) {
		t.Errorf("candle = %+v", got)
	}
}

func TestBreaker_OpensAndHalfOpens(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }
	boom := errors.New("boom")

	b.Do(func() error { return boom }, nil)
	b.Do(func() error { return boom }, nil)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s", b.State())
	}
	called := false
	if err := b.Do(func() error { called = true; return nil }, nil); !errors.Is(err, ErrBreakerOpen) || called {
		t.Errorf("open breaker should reject, err=%v called=%v", err, called)
	}

	now = now.Add(2 * time.Minute)
	if err := b.Do(func() error { return nil }, nil); err != nil {
		t.Fatal(err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("successful trial should close, got %s", b.State())
	}
}

func TestIntervalString(t *testing.T) {
	for d, want := range map[time.Duration]string{
		time.Minute: "1m", 15 * time.Minute: "15m", 4 * time.Hour: "4h", 24 * time.Hour: "1d",
	} {
		if got, err := IntervalString(d); err != nil || got != want {
			t.Errorf("IntervalString(%v) = %s, %v", d, got, err)
		}
	}
	if _, err := IntervalString(30 * time.Second); err == nil {
		t.Error("sub-minute interval should fail")
	}
}

func klineMsg(openMs int64, close string, final bool) string {
	return fmt.Sprintf(`{"e":"kline","E":%d,"s":"ETHUSDT","k":{"t":%d,"T":%d,"o":"1","h":"2","l":"0.5","c":"%s","v":"1","x":%t}}`,
		openMs+30000, openMs, openMs+59999, close, final)
}

type fakeKlines struct{ candles []model.Candle }

func (f fakeKlines) Klines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]model.Candle, error) {
	return f.candles, nil
}

func TestFeed_TicksCandlesAndGaps(t *testing.T) {
	const base = int64(1709294400000)
	minute := int64(60000)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/ethusdt@kline_1m") {
			t.Errorf("path = %s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range []string{
			klineMsg(base, "10", false),
			klineMsg(base, "11", true),
			klineMsg(base, "11", true), // duplicate
			klineMsg(base+3*minute, "14", true),
			klineMsg(base+5*minute, "16", true),
		} {
			conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	// Backfill covers only the first hole (minutes 1-2).
	src := fakeKlines{candles: []model.Candle{
		{Symbol: "ETHUSDT", TS: time.UnixMilli(base + minute).UTC(), Close: 12},
		{Symbol: "ETHUSDT", TS: time.UnixMilli(base + 2*minute).UTC(), Close: 13},
	}}
	feed := NewFeed(FeedConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Backfill: src}, zerolog.Nop())
	var gaps atomic.Int32
	feed.OnGap = func(string, int) { gaps.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := feed.Subscribe(ctx, "ETH/USDT", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	var candles []model.Candle
	ticks := 0
	timeout := time.After(3 * time.Second)
	for len(candles) < 5 {
		select {
		case ev := <-events:
			if ev.Kind == model.EventTick {
				ticks++
				continue
			}
			candles = append(candles, ev.Candle)
		case <-timeout:
			t.Fatalf("timed out with %d candles", len(candles))
		}
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		if i > 0 && !c.TS.After(candles[i-1].TS) {
			t.Errorf("candles out of order at %d", i)
		}
	}
	if fmt.Sprint(closes) != "[11 12 13 14 16]" {
		t.Errorf("closes = %v", closes)
	}
	if candles[3].Gap {
		t.Error("backfilled hole should not be flagged as a gap")
	}
	if !candles[4].Gap {
		t.Error("unfilled hole should set the gap flag")
	}
	if ticks != 5 {
		t.Errorf("ticks = %d, want one per message", ticks)
	}
	if gaps.Load() != 2 {
		t.Errorf("gaps = %d, want 2", gaps.Load())
	}
}

func TestFeed_ResumeBackfillsDowntime(t *testing.T) {
	const base = int64(1709294400000)
	minute := int64(60000)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(klineMsg(base+3*minute, "14", true)))
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	src := fakeKlines{candles: []model.Candle{
		{Symbol: "ETHUSDT", TS: time.UnixMilli(base + minute).UTC(), Close: 12},
		{Symbol: "ETHUSDT", TS: time.UnixMilli(base + 2*minute).UTC(), Close: 13},
	}}
	var resumed atomic.Value
	feed := NewFeed(FeedConfig{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Backfill: src,
		Resume: func(_ context.Context, symbol string) (time.Time, error) {
			resumed.Store(symbol)
			return time.UnixMilli(base).UTC(), nil
		},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := feed.Subscribe(ctx, "eth/usdt", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Load() != "ETHUSDT" {
		t.Errorf("resume asked for %v", resumed.Load())
	}

	var candles []model.Candle
	timeout := time.After(3 * time.Second)
	for len(candles) < 3 {
		select {
		case ev := <-events:
			if ev.Kind == model.EventCandle {
				candles = append(candles, ev.Candle)
			}
		case <-timeout:
			t.Fatalf("timed out with %d candles", len(candles))
		}
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	if fmt.Sprint(closes) != "[12 13 14]" {
		t.Errorf("closes = %v, want the downtime backfilled first", closes)
	}
	if candles[2].Gap {
		t.Error("fully backfilled downtime should not be flagged as a gap")
	}
}
