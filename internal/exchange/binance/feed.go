package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sniperbot/internal/model"
)

const (
	MainnetStreamURL = "wss://stream.binance.com:9443/ws"
	TestnetStreamURL = "wss://stream.testnet.binance.vision/ws"

	defaultEventBuffer = 256
	readTimeout        = 90 * time.Second
	maxBackfill        = 1000 // klines per REST request
)

// KlineSource fetches closed klines for backfilling gaps after a
// reconnect. *Client implements it.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]model.Candle, error)
}

// FeedConfig configures the kline feed.
type FeedConfig struct {
	URL               string // stream base URL, e.g. MainnetStreamURL
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Backfill          KlineSource // optional

	// Resume reports the open time of the newest candle already stored
	// for a symbol. The first live candle then backfills everything
	// after it. Optional.
	Resume func(ctx context.Context, symbol string) (time.Time, error)
}

func (c *FeedConfig) defaults() {
	if c.URL == "" {
		c.URL = MainnetStreamURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Feed streams <symbol>@kline_<interval> and implements
// model.MarketDataFeed. Every kline update becomes a Tick at the current
// close; a final (x=true) kline becomes a closed Candle.
type Feed struct {
	cfg    FeedConfig
	log    zerolog.Logger
	dialer *websocket.Dialer

	// Optional hooks
	OnConnect   func(symbol string, connected bool)
	OnReconnect func(symbol string, err error)
	OnGap       func(symbol string, missing int)
}

var _ model.MarketDataFeed = (*Feed)(nil)

// NewFeed creates a kline feed.
func NewFeed(cfg FeedConfig, log zerolog.Logger) *Feed {
	cfg.defaults()
	return &Feed{
		cfg:    cfg,
		log:    log.With().Str("component", "kline-feed").Logger(),
		dialer: websocket.DefaultDialer,
	}
}

// Subscribe starts streaming symbol at interval. The returned channel is
// closed when ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context, symbol string, interval time.Duration) (<-chan model.MarketEvent, error) {
	iv, err := IntervalString(interval)
	if err != nil {
		return nil, err
	}
	sym := model.NormalizeSymbol(symbol)
	out := make(chan model.MarketEvent, defaultEventBuffer)
	s := &stream{
		feed:     f,
		symbol:   sym,
		interval: interval,
		ivName:   iv,
		url:      fmt.Sprintf("%s/%s@kline_%s", strings.TrimRight(f.cfg.URL, "/"), strings.ToLower(sym), iv),
		out:      out,
		log:      f.log.With().Str("symbol", sym).Logger(),
	}
	if f.cfg.Resume != nil {
		last, err := f.cfg.Resume(ctx, sym)
		if err != nil {
			s.log.Warn().Err(err).Msg("resume point unavailable, starting without backfill")
		}
		s.lastOpen = last
	}
	go s.run(ctx)
	return out, nil
}

// stream is the state of one symbol subscription.
type stream struct {
	feed     *Feed
	symbol   string
	interval time.Duration
	ivName   string
	url      string
	out      chan model.MarketEvent
	log      zerolog.Logger

	lastOpen time.Time // open time of the last emitted closed candle
}

func (s *stream) run(ctx context.Context) {
	defer close(s.out)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.feed.cfg.ReconnectDelay
	b.MaxInterval = s.feed.cfg.MaxReconnectDelay
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}
		delay := b.NextBackOff()
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("kline stream disconnected, reconnecting")
		if s.feed.OnReconnect != nil {
			s.feed.OnReconnect(s.symbol, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce holds one connection until it fails. connected reports whether
// the dial succeeded.
func (s *stream) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := s.feed.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	s.log.Info().Str("url", s.url).Msg("kline stream connected")
	if s.feed.OnConnect != nil {
		s.feed.OnConnect(s.symbol, true)
		defer s.feed.OnConnect(s.symbol, false)
	}

	// Unblock ReadMessage on shutdown
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		ev, err := parseKlineEvent(msg)
		if err != nil {
			s.log.Debug().Err(err).Msg("skipping message")
			continue
		}
		if !s.handle(ctx, ev) {
			return true, ctx.Err()
		}
	}
}

// handle emits the tick and, for a final kline, the closed candle. Returns
// false when ctx is done.
func (s *stream) handle(ctx context.Context, ev klineEvent) bool {
	tick := model.Tick{Symbol: s.symbol, Price: ev.Kline.close, TS: time.UnixMilli(ev.EventTime).UTC()}
	if !s.emit(ctx, model.TickEvent(tick)) {
		return false
	}
	if !ev.Kline.Final {
		return true
	}

	c := ev.candle(s.symbol)
	if !s.lastOpen.IsZero() {
		if !c.TS.After(s.lastOpen) {
			// re-delivered after reconnect
			return true
		}
		if missing := int(c.TS.Sub(s.lastOpen)/s.interval) - 1; missing > 0 {
			c.Gap = !s.backfill(ctx, c.TS, missing)
			if ctx.Err() != nil {
				return false
			}
		}
	}
	s.lastOpen = c.TS
	return s.emit(ctx, model.CandleEvent(c))
}

// backfill fetches and emits the missing candles before next. Returns
// true when the hole was fully filled.
func (s *stream) backfill(ctx context.Context, next time.Time, missing int) bool {
	if s.feed.OnGap != nil {
		s.feed.OnGap(s.symbol, missing)
	}
	src := s.feed.cfg.Backfill
	if src == nil {
		s.log.Warn().Int("missing", missing).Msg("candle gap detected")
		return false
	}

	candles, err := src.Klines(ctx, s.symbol, s.ivName, s.lastOpen.Add(s.interval), min(missing, maxBackfill))
	if err != nil {
		s.log.Warn().Err(err).Int("missing", missing).Msg("gap backfill failed")
		return false
	}
	filled := 0
	for _, c := range candles {
		if !c.TS.After(s.lastOpen) || !c.TS.Before(next) {
			continue
		}
		s.lastOpen = c.TS
		if !s.emit(ctx, model.CandleEvent(c)) {
			return false
		}
		filled++
	}
	s.log.Info().Int("missing", missing).Int("filled", filled).Msg("gap backfilled")
	return filled == missing
}

func (s *stream) emit(ctx context.Context, ev model.MarketEvent) bool {
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// klineEvent is the stream payload.
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Final     bool   `json:"x"`

		open, high, low, close, volume float64
	} `json:"k"`
}

func parseKlineEvent(msg []byte) (klineEvent, error) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return ev, err
	}
	if ev.EventType != "kline" {
		return ev, fmt.Errorf("unexpected event %q", ev.EventType)
	}
	k := &ev.Kline
	for _, f := range []struct {
		raw string
		dst *float64
	}{{k.Open, &k.open}, {k.High, &k.high}, {k.Low, &k.low}, {k.Close, &k.close}, {k.Volume, &k.volume}} {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return ev, fmt.Errorf("kline value %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return ev, nil
}

func (ev klineEvent) candle(symbol string) model.Candle {
	k := ev.Kline
	return model.Candle{
		Symbol: symbol,
		TS:     time.UnixMilli(k.OpenTime).UTC(),
		Open:   k.open,
		High:   k.high,
		Low:    k.low,
		Close:  k.close,
		Volume: k.volume,
	}
}

// IntervalString converts a duration to exchange interval notation.
func IntervalString(d time.Duration) (string, error) {
	switch {
	case d <= 0:
	case d%(24*time.Hour) == 0:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d", nil
	case d%time.Hour == 0:
		return strconv.Itoa(int(d/time.Hour)) + "h", nil
	case d%time.Minute == 0:
		return strconv.Itoa(int(d/time.Minute)) + "m", nil
	}
	return "", fmt.Errorf("unsupported interval %s", d)
}
