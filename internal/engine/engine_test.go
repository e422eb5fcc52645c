package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
)

// scriptFeed replays fixed events per symbol, then closes the stream.
type scriptFeed map[string][]model.MarketEvent

func (f scriptFeed) Subscribe(ctx context.Context, symbol string, _ time.Duration) (<-chan model.MarketEvent, error) {
	events, ok := f[symbol]
	if !ok {
		return nil, errors.New("no script for " + symbol)
	}
	ch := make(chan model.MarketEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func candleEvents(candles []model.Candle) []model.MarketEvent {
	out := make([]model.MarketEvent, len(candles))
	for i, c := range candles {
		out[i] = model.CandleEvent(c)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngineRunsLanesInParallel(t *testing.T) {
	f := newFixture(t)
	e, err := New(Config{Symbols: []string{"ETHUSDT", "BTCUSDT"}, Interval: time.Minute}, f.deps)
	if err != nil {
		t.Fatal(err)
	}

	var halted atomic.Int32
	e.OnHalt = func(string, error) { halted.Add(1) }

	feed := scriptFeed{
		"ETHUSDT": candleEvents(entryPath("ETHUSDT")),
		"BTCUSDT": append(candleEvents(entryPath("BTCUSDT")),
			model.TickEvent(model.Tick{Symbol: "BTCUSDT", Price: 105, TS: t0.Add(41 * time.Minute)})),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, feed) }()

	waitFor(t, "both positions", func() bool { return f.book.Open() == 2 })
	waitFor(t, "tick", func() bool { l, _ := e.Lane("BTCUSDT"); return l.LastPrice() == 105 })

	st := e.Status()
	if len(st) != 2 || st[0].Symbol != "BTCUSDT" || st[0].State != portfolio.StateOpen {
		t.Fatalf("status %+v", st)
	}
	if st[0].Unrealized <= 0 {
		t.Errorf("BTC unrealized %v at 105", st[0].Unrealized)
	}

	// Feeds are exhausted; commands are still served
	closed, err := e.ClosePosition(ctx, "BTC/USDT")
	if err != nil {
		t.Fatal(err)
	}
	if closed.ExitReason != model.ExitManual || closed.ExitPrice != 105 {
		t.Errorf("manual close %+v", closed)
	}
	cancelled, err := e.CancelPosition(ctx, "ETHUSDT")
	if err != nil || cancelled.Status != model.StatusCancelled {
		t.Fatalf("cancel: %+v %v", cancelled, err)
	}
	if f.book.Open() != 0 {
		t.Errorf("book = %d", f.book.Open())
	}
	if _, err := e.ClosePosition(ctx, "DOGEUSDT"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("unknown symbol: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if n := halted.Load(); n != 0 {
		t.Errorf("%d lanes halted", n)
	}
}

func TestEngineRespectsCapacityAcrossLanes(t *testing.T) {
	f := newFixture(t)
	f.book = portfolio.NewBook(1)
	f.deps.Book = f.book
	limits := testLimits()
	limits.MaxPositions = 1
	f.deps.Risk = portfolio.NewRiskManager(limits)

	symbols := []string{"ETHUSDT", "BTCUSDT", "SOLUSDT", "BNBUSDT"}
	e, err := New(Config{Symbols: symbols, Interval: time.Minute}, f.deps)
	if err != nil {
		t.Fatal(err)
	}
	feed := scriptFeed{}
	for _, s := range symbols {
		feed[s] = candleEvents(entryPath(s))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx, feed) }()

	waitFor(t, "all lanes", func() bool {
		for _, st := range e.Status() {
			if st.Indicators.Candles != 41 {
				return false
			}
		}
		return true
	})
	open := 0
	for _, st := range e.Status() {
		if st.State == portfolio.StateOpen {
			open++
		}
	}
	if open != 1 || f.book.Count() != 1 {
		t.Fatalf("open=%d count=%d, want 1", open, f.book.Count())
	}
}

func TestEngineRecover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, c := range entryPath("ETHUSDT") {
		_ = f.store.UpsertCandle(ctx, c)
	}
	_ = f.store.UpsertPosition(ctx, model.Position{
		TradeID: "t-1", Symbol: "ETHUSDT", Side: model.SideLong, EntryPrice: 100, Quantity: 1,
		StopLoss: 98, TakeProfit: 104, OpenedAt: t0, Status: model.StatusOpen, OrderID: "o-1",
	})
	_ = f.store.UpsertPosition(ctx, model.Position{
		TradeID: "t-2", Symbol: "XRPUSDT", Side: model.SideLong, EntryPrice: 1, Quantity: 1,
		OpenedAt: t0, Status: model.StatusOpen, OrderID: "o-2",
	})

	e, err := New(Config{Symbols: []string{"ETHUSDT"}, Interval: time.Minute, Warmup: 50}, f.deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	l, _ := e.Lane("ETHUSDT")
	st := l.Status()
	if st.State != portfolio.StateOpen || st.Position.TradeID != "t-1" {
		t.Fatalf("status %+v", st)
	}
	if !st.Indicators.Valid || st.Indicators.Candles != 41 {
		t.Errorf("indicators %+v", st.Indicators)
	}
	if f.book.Open() != 1 {
		t.Errorf("book = %d", f.book.Open())
	}

	// A replayed candle after recovery is a duplicate, not a violation
	last := entryPath("ETHUSDT")[40]
	if _, err := l.OnCandle(ctx, last); err != nil {
		t.Errorf("replayed candle: %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Symbols: []string{"ETHUSDT"}}, Deps{Log: zerolog.Nop()}); err == nil {
		t.Error("expected error without executor")
	}
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Error("expected error without symbols")
	}
}
