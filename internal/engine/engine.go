package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sniperbot/internal/model"
	"sniperbot/internal/notification"
)

// DefaultWarmup is how many stored candles each lane replays on start.
const DefaultWarmup = 200

// ErrUnknownSymbol is returned for a symbol the engine does not trade.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Config selects what the engine trades.
type Config struct {
	Symbols  []string
	Interval time.Duration
	Warmup   int
}

// Engine runs one Lane per symbol. Market events and operator commands
// for a symbol are serialized on that symbol's goroutine.
type Engine struct {
	cfg   Config
	deps  Deps
	lanes map[string]*Lane
	cmds  map[string]chan command
	log   zerolog.Logger

	// OnHalt is called when a lane stops on an ordering violation.
	OnHalt func(symbol string, err error)
	// OnEvent is called after every market event reaches a lane.
	OnEvent func(symbol string, at time.Time)
}

type command struct {
	run   func(ctx context.Context, l *Lane) (model.Position, error)
	reply chan commandResult
}

type commandResult struct {
	pos model.Position
	err error
}

// New builds an engine with an Idle lane for every configured symbol.
func New(cfg Config, deps Deps) (*Engine, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("engine: no symbols")
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = DefaultWarmup
	}
	if err := deps.fill(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:   cfg,
		deps:  deps,
		lanes: make(map[string]*Lane, len(cfg.Symbols)),
		cmds:  make(map[string]chan command, len(cfg.Symbols)),
		log:   deps.Log.With().Str("component", "engine").Logger(),
	}
	for _, s := range cfg.Symbols {
		if _, dup := e.lanes[s]; dup {
			continue
		}
		l, err := NewLane(s, deps)
		if err != nil {
			return nil, err
		}
		e.lanes[s] = l
		e.cmds[s] = make(chan command)
	}
	return e, nil
}

// Symbols returns the traded symbols, sorted.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.lanes))
	for s := range e.lanes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Lane returns the lane for symbol.
func (e *Engine) Lane(symbol string) (*Lane, bool) {
	l, ok := e.lanes[model.NormalizeSymbol(symbol)]
	return l, ok
}

// Recover restores open positions from the store and warms every lane's
// indicators from stored candles. Call it before Run.
func (e *Engine) Recover(ctx context.Context) error {
	open, err := e.deps.Store.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	for _, p := range open {
		l, ok := e.lanes[p.Symbol]
		if !ok {
			e.log.Warn().Str("symbol", p.Symbol).Str("trade_id", p.TradeID).Msg("open position for untraded symbol left as is")
			continue
		}
		if err := l.Restore(p); err != nil {
			return fmt.Errorf("restore %s: %w", p.TradeID, err)
		}
		e.log.Info().Str("symbol", p.Symbol).Str("trade_id", p.TradeID).Float64("entry", p.EntryPrice).Msg("position restored")
	}

	for _, s := range e.Symbols() {
		candles, err := e.deps.Store.RecentCandles(ctx, s, e.cfg.Warmup)
		if err != nil {
			return fmt.Errorf("load candles for %s: %w", s, err)
		}
		e.warm(s, candles)
	}
	return nil
}

// WarmBefore warms every lane from src's candles strictly before before,
// keeping the last Warmup of them. A replay starting at before then
// continues the same series. Positions are not restored.
func (e *Engine) WarmBefore(ctx context.Context, src model.Store, before time.Time) error {
	if before.IsZero() {
		return nil
	}
	for _, s := range e.Symbols() {
		candles, err := src.Candles(ctx, s, time.Time{}, before)
		if err != nil {
			return fmt.Errorf("load candles for %s: %w", s, err)
		}
		if len(candles) > e.cfg.Warmup {
			candles = candles[len(candles)-e.cfg.Warmup:]
		}
		e.warm(s, candles)
	}
	return nil
}

func (e *Engine) warm(symbol string, candles []model.Candle) {
	l := e.lanes[symbol]
	n := l.Warm(candles)
	e.log.Info().Str("symbol", symbol).Int("candles", n).Bool("valid", l.Status().Indicators.Valid).Msg("indicators warmed")
}

// Run subscribes every symbol to feed and processes events until ctx is
// cancelled. An in-flight executor call finishes before its lane exits.
func (e *Engine) Run(ctx context.Context, feed model.MarketDataFeed) error {
	streams := make(map[string]<-chan model.MarketEvent, len(e.lanes))
	for _, s := range e.Symbols() {
		ch, err := feed.Subscribe(ctx, s, e.cfg.Interval)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		streams[s] = ch
	}

	e.log.Info().Strs("symbols", e.Symbols()).Dur("interval", e.cfg.Interval).Msg("engine started")
	var wg sync.WaitGroup
	for s, ch := range streams {
		wg.Add(1)
		go func(l *Lane, events <-chan model.MarketEvent, cmds <-chan command) {
			defer wg.Done()
			e.runLane(ctx, l, events, cmds)
		}(e.lanes[s], ch, e.cmds[s])
	}
	wg.Wait()
	e.log.Info().Msg("engine stopped")
	return nil
}

func (e *Engine) runLane(ctx context.Context, l *Lane, events <-chan model.MarketEvent, cmds <-chan command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-cmds:
			pos, err := cmd.run(ctx, l)
			cmd.reply <- commandResult{pos: pos, err: err}
		case ev, ok := <-events:
			if !ok {
				// Feed ended; keep serving operator commands
				events = nil
				e.log.Warn().Str("symbol", l.Symbol()).Msg("feed closed")
				continue
			}
			e.handle(ctx, l, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, l *Lane, ev model.MarketEvent) {
	if l.Halted() != nil {
		return
	}
	switch ev.Kind {
	case model.EventCandle:
		if e.OnEvent != nil {
			e.OnEvent(l.Symbol(), ev.Candle.TS)
		}
		if _, err := l.OnCandle(ctx, ev.Candle); err != nil && e.OnHalt != nil {
			e.OnHalt(l.Symbol(), err)
		}
	case model.EventTick:
		if e.OnEvent != nil {
			e.OnEvent(l.Symbol(), ev.Tick.TS)
		}
		// a failed tick exit is logged and notified by the lane
		_, _ = l.OnTick(ctx, ev.Tick)
	}
}

// ClosePosition asks symbol's lane to flatten its open position.
func (e *Engine) ClosePosition(ctx context.Context, symbol string) (model.Position, error) {
	return e.do(ctx, symbol, func(ctx context.Context, l *Lane) (model.Position, error) {
		return l.ManualClose(ctx, time.Now().UTC())
	})
}

// CancelPosition asks symbol's lane to cancel its open position.
func (e *Engine) CancelPosition(ctx context.Context, symbol string) (model.Position, error) {
	return e.do(ctx, symbol, func(ctx context.Context, l *Lane) (model.Position, error) {
		return l.Cancel(ctx, time.Now().UTC())
	})
}

func (e *Engine) do(ctx context.Context, symbol string, run func(context.Context, *Lane) (model.Position, error)) (model.Position, error) {
	symbol = model.NormalizeSymbol(symbol)
	ch, ok := e.cmds[symbol]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	cmd := command{run: run, reply: make(chan commandResult, 1)}
	select {
	case ch <- cmd:
	case <-ctx.Done():
		return model.Position{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.pos, res.err
	case <-ctx.Done():
		return model.Position{}, ctx.Err()
	}
}

// Status returns every lane's view, sorted by symbol.
func (e *Engine) Status() []Status {
	out := make([]Status, 0, len(e.lanes))
	for _, s := range e.Symbols() {
		out = append(out, e.lanes[s].Status())
	}
	return out
}

// Announce sends the startup notification.
func (e *Engine) Announce(tf string) {
	e.deps.Notifier.Notify(notification.StartupEvent(e.Symbols(), tf, time.Now().UTC()))
}
