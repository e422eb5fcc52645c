// Package engine is the live control loop. Each symbol owns a Lane that
// runs candle → indicators → signal → risk → order → position transition
// on a single goroutine; lanes for different symbols run in parallel and
// share only the capacity Book.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sniperbot/internal/execution"
	"sniperbot/internal/indicator"
	"sniperbot/internal/logger"
	"sniperbot/internal/metrics"
	"sniperbot/internal/model"
	"sniperbot/internal/notification"
	"sniperbot/internal/portfolio"
	"sniperbot/internal/strategy"
)

// Notifier receives fire-and-forget events. *notification.Dispatcher
// implements it.
type Notifier interface {
	Notify(ev notification.Event)
}

// Discard is a Notifier that drops every event.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(notification.Event) {}

// Deps are the collaborators shared by every lane.
type Deps struct {
	Executor  execution.Executor
	Store     model.Store
	Notifier  Notifier
	Risk      *portfolio.RiskManager
	Generator *strategy.Generator
	Book      *portfolio.Book
	Metrics   *metrics.Metrics // optional
	Log       zerolog.Logger
}

func (d *Deps) fill() error {
	switch {
	case d.Executor == nil:
		return errors.New("engine: executor is required")
	case d.Store == nil:
		return errors.New("engine: store is required")
	case d.Risk == nil:
		return errors.New("engine: risk manager is required")
	}
	if d.Notifier == nil {
		d.Notifier = Discard
	}
	if d.Generator == nil {
		d.Generator = strategy.NewGenerator(d.Risk.Limits().MinConfidence)
	}
	if d.Book == nil {
		d.Book = portfolio.NewBook(d.Risk.Limits().MaxPositions)
	}
	return nil
}

// ErrHalted is returned for market events on a lane stopped by an
// ordering violation.
var ErrHalted = errors.New("lane halted")

// ErrNoPrice is returned by a manual close before any price was seen.
var ErrNoPrice = errors.New("no price seen yet")

// Outcome reports what one candle did. Nil fields mean "did not happen".
type Outcome struct {
	Signal    *model.Signal
	Opened    *model.Position
	Closed    *model.Position
	Rejection *model.RiskRejection
	Failure   error // ExecutionFailure that left state unchanged
}

// Lane processes one symbol. Its On* methods must be called from a
// single goroutine; Status may be called from anywhere.
type Lane struct {
	symbol string
	deps   Deps
	ind    *indicator.Engine
	pm     *portfolio.PositionManager
	log    zerolog.Logger

	mu        sync.RWMutex
	halted    error
	lastPrice float64
	snap      indicator.Snapshot

	// set by a tick exit, cleared by the next accepted candle
	tickExit bool
}

// NewLane creates an Idle lane for symbol.
func NewLane(symbol string, deps Deps) (*Lane, error) {
	if err := deps.fill(); err != nil {
		return nil, err
	}
	return &Lane{
		symbol: symbol,
		deps:   deps,
		ind:    indicator.NewEngine(symbol),
		pm:     portfolio.NewPositionManager(symbol),
		log:    logger.Component(deps.Log, "lane", symbol),
	}, nil
}

// Symbol returns the lane's symbol.
func (l *Lane) Symbol() string { return l.symbol }

// Positions returns the lane's position manager (read access for callers).
func (l *Lane) Positions() *portfolio.PositionManager { return l.pm }

// Halted returns the ordering violation that stopped the lane, if any.
func (l *Lane) Halted() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.halted
}

// OnCandle runs one decision step for a closed candle. Only an
// OrderingViolation is returned as an error; it halts the lane.
func (l *Lane) OnCandle(ctx context.Context, c model.Candle) (Outcome, error) {
	var out Outcome
	if err := l.Halted(); err != nil {
		return out, ErrHalted
	}
	start := time.Now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(l.symbol, c.TS))
	log := logger.Ctx(ctx, l.log)

	switch err := l.checkOrder(c); {
	case errors.Is(err, model.ErrDuplicateCandle):
		log.Debug().Time("ts", c.TS).Msg("duplicate candle ignored")
		return out, nil
	case err != nil:
		l.halt(err)
		return out, err
	}

	if c.Gap {
		log.Warn().Time("ts", c.TS).Msg("candle follows a feed gap")
	}
	l.persist(ctx, "upsert_candle", func(ctx context.Context) error { return l.deps.Store.UpsertCandle(ctx, c) })
	l.setPrice(c.Close)

	// A tick exit inside this bar counts as the bar's exit.
	exited := l.tickExit
	l.tickExit = false

	// Thresholds first, against the bar's full range
	if price, reason, hit := l.pm.CheckRange(c.Low, c.High); hit {
		closed, err := l.close(ctx, price, reason, c.TS)
		if err != nil {
			out.Failure = err
		} else {
			out.Closed = &closed
			exited = true
		}
	}

	snap, err := l.ind.Update(c)
	if err != nil {
		// checkOrder already screened ordering, so this is a symbol mismatch
		l.halt(err)
		return out, err
	}
	l.mu.Lock()
	l.snap = snap
	l.mu.Unlock()
	if m := l.deps.Metrics; m != nil {
		m.CandlesTotal.WithLabelValues(l.symbol).Inc()
		defer func() { m.DecisionDur.Observe(time.Since(start).Seconds()) }()
	}

	sig := l.deps.Generator.Generate(l.symbol, snap, c.Close)
	out.Signal = &sig
	l.persist(ctx, "append_signal", func(ctx context.Context) error { return l.deps.Store.AppendSignal(ctx, sig) })
	if m := l.deps.Metrics; m != nil {
		m.SignalsTotal.WithLabelValues(l.symbol, string(sig.Action)).Inc()
	}
	if sig.Actionable() {
		log.Info().Str("action", string(sig.Action)).Float64("confidence", sig.Confidence).
			Str("trend", string(sig.Trend)).Str("reason", sig.Reason).Msg("signal")
		l.deps.Notifier.Notify(notification.SignalEvent(sig))
	}

	if exited {
		return out, nil
	}

	if pos, open := l.pm.Current(); open {
		if sig.Opposes(pos.Side) && sig.Confidence >= l.deps.Generator.MinConfidence() {
			closed, err := l.close(ctx, c.Close, model.ExitOpposingSignal, c.TS)
			if err != nil {
				out.Failure = err
			} else {
				out.Closed = &closed
			}
		}
		return out, nil
	}

	if !sig.Actionable() {
		return out, nil
	}
	opened, rej, err := l.enter(ctx, sig)
	switch {
	case rej != nil:
		out.Rejection = rej
	case err != nil:
		out.Failure = err
	default:
		out.Opened = opened
	}
	return out, nil
}

// OnTick checks the open position's thresholds against a live price.
func (l *Lane) OnTick(ctx context.Context, t model.Tick) (*model.Position, error) {
	if err := l.Halted(); err != nil {
		return nil, ErrHalted
	}
	l.setPrice(t.Price)
	if m := l.deps.Metrics; m != nil {
		m.TicksTotal.WithLabelValues(l.symbol).Inc()
	}

	price, reason, hit := l.pm.CheckPrice(t.Price)
	if !hit {
		return nil, nil
	}
	closed, err := l.close(ctx, price, reason, t.TS)
	if err != nil {
		return nil, err
	}
	l.tickExit = true
	return &closed, nil
}

// ManualClose flattens the open position at the last seen price.
func (l *Lane) ManualClose(ctx context.Context, at time.Time) (model.Position, error) {
	if _, open := l.pm.Current(); !open {
		return model.Position{}, portfolio.ErrNoOpenPosition
	}
	price := l.LastPrice()
	if price <= 0 {
		return model.Position{}, ErrNoPrice
	}
	return l.close(ctx, price, model.ExitManual, at)
}

// Cancel marks the open position Cancelled without an exchange order.
func (l *Lane) Cancel(ctx context.Context, at time.Time) (model.Position, error) {
	p, err := l.pm.Cancel(at)
	if err != nil {
		return model.Position{}, err
	}
	l.deps.Book.Remove(l.symbol)
	l.persist(ctx, "upsert_position", func(ctx context.Context) error { return l.deps.Store.UpsertPosition(ctx, p) })
	l.positionClosed(p)
	l.log.Warn().Str("trade_id", p.TradeID).Msg("position cancelled")
	return p, nil
}

// Warm replays stored candles through the indicators only. No signals,
// no orders. Out-of-order or duplicate candles are skipped.
func (l *Lane) Warm(candles []model.Candle) int {
	n := 0
	for _, c := range candles {
		snap, err := l.ind.Update(c)
		if err != nil {
			continue
		}
		n++
		l.mu.Lock()
		l.snap = snap
		l.lastPrice = c.Close
		l.mu.Unlock()
	}
	return n
}

// Restore reinstates an open position loaded from the store.
func (l *Lane) Restore(p model.Position) error {
	if err := l.pm.Restore(p); err != nil {
		return err
	}
	l.deps.Book.Restore(l.symbol)
	l.openGauge()
	return nil
}

// LastPrice returns the most recent tick or candle close.
func (l *Lane) LastPrice() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastPrice
}

// Status is a point-in-time view of a lane.
type Status struct {
	Symbol     string             `json:"symbol"`
	State      portfolio.State    `json:"state"`
	Position   *model.Position    `json:"position,omitempty"`
	LastPrice  float64            `json:"last_price"`
	Unrealized float64            `json:"unrealized_pnl"`
	Halted     string             `json:"halted,omitempty"`
	Indicators indicator.Snapshot `json:"indicators"`
}

// Status returns the lane's current view.
func (l *Lane) Status() Status {
	l.mu.RLock()
	st := Status{Symbol: l.symbol, LastPrice: l.lastPrice, Indicators: l.snap}
	if l.halted != nil {
		st.Halted = l.halted.Error()
	}
	l.mu.RUnlock()

	st.State = l.pm.State()
	if p, ok := l.pm.Current(); ok {
		st.Position = &p
		st.Unrealized = l.pm.Unrealized(st.LastPrice)
	}
	return st
}

// enter sizes sig, reserves capacity and places the entry order. The
// position opens only after the executor acknowledges.
func (l *Lane) enter(ctx context.Context, sig model.Signal) (*model.Position, *model.RiskRejection, error) {
	exec := context.WithoutCancel(ctx)
	log := logger.Ctx(ctx, l.log)

	balance, err := l.deps.Executor.AccountBalance(exec)
	if err != nil {
		l.executionFailed(sig.TS, err)
		return nil, nil, err
	}

	intent, err := l.deps.Risk.Size(sig, balance, l.deps.Book.Count())
	if err != nil {
		var rej *model.RiskRejection
		if errors.As(err, &rej) {
			l.rejected(sig, rej)
			return nil, rej, nil
		}
		return nil, nil, err
	}
	if !l.deps.Book.TryReserve(l.symbol) {
		rej := &model.RiskRejection{Kind: model.RejectCapacityExceeded, Detail: "no free slot"}
		l.rejected(sig, rej)
		return nil, rej, nil
	}

	res, err := l.deps.Executor.PlaceOrder(exec, intent)
	if err != nil {
		l.deps.Book.Release(l.symbol)
		l.executionFailed(sig.TS, err)
		return nil, nil, err
	}

	p, err := l.pm.Open(intent, res, sig.TS)
	if err != nil {
		// Unreachable while the lane is the only writer
		l.deps.Book.Release(l.symbol)
		log.Error().Err(err).Str("order_id", res.OrderID).Msg("acknowledged order could not be recorded")
		return nil, nil, err
	}
	l.deps.Book.Commit(l.symbol)

	l.persist(ctx, "upsert_position", func(ctx context.Context) error { return l.deps.Store.UpsertPosition(ctx, p) })
	log.Info().Str("trade_id", p.TradeID).Str("side", string(p.Side)).Float64("entry", p.EntryPrice).
		Float64("qty", p.Quantity).Float64("stop_loss", p.StopLoss).Float64("take_profit", p.TakeProfit).
		Msg("position opened")
	l.deps.Notifier.Notify(notification.PositionOpenedEvent(p))
	if m := l.deps.Metrics; m != nil {
		m.PositionsOpened.WithLabelValues(l.symbol, string(p.Side)).Inc()
	}
	l.openGauge()
	return &p, nil, nil
}

// close sends the close order and commits the exit at price once the
// executor acknowledges. On failure the position stays Open.
func (l *Lane) close(ctx context.Context, price float64, reason model.ExitReason, at time.Time) (model.Position, error) {
	p, ok := l.pm.Current()
	if !ok {
		return model.Position{}, portfolio.ErrNoOpenPosition
	}

	_, err := l.deps.Executor.CloseOrder(context.WithoutCancel(ctx), model.CloseRequest{
		OrderID:  p.OrderID,
		Symbol:   p.Symbol,
		Side:     p.Side,
		Quantity: p.Quantity,
		Price:    price,
	})
	if err != nil {
		l.executionFailed(at, err)
		return model.Position{}, err
	}

	closed, err := l.pm.Close(price, at, reason)
	if err != nil {
		return model.Position{}, err
	}
	l.deps.Book.Remove(l.symbol)
	l.persist(ctx, "upsert_position", func(ctx context.Context) error { return l.deps.Store.UpsertPosition(ctx, closed) })

	log := logger.Ctx(ctx, l.log)
	log.Info().Str("trade_id", closed.TradeID).Str("reason", string(reason)).
		Float64("exit", closed.ExitPrice).Float64("pnl", closed.PnL).Msg("position closed")
	l.positionClosed(closed)
	return closed, nil
}

func (l *Lane) positionClosed(p model.Position) {
	l.deps.Notifier.Notify(notification.PositionClosedEvent(p))
	if m := l.deps.Metrics; m != nil {
		m.PositionsClosed.WithLabelValues(l.symbol, string(p.ExitReason)).Inc()
	}
	l.openGauge()
}

func (l *Lane) openGauge() {
	if m := l.deps.Metrics; m != nil {
		m.OpenPositions.Set(float64(l.deps.Book.Open()))
	}
}

// checkOrder screens c against the last accepted candle.
func (l *Lane) checkOrder(c model.Candle) error {
	if c.Symbol != l.symbol {
		return fmt.Errorf("candle for %s on lane %s", c.Symbol, l.symbol)
	}
	last, ok := l.ind.Series().Last()
	if !ok {
		return nil
	}
	switch {
	case c.TS.Before(last.TS):
		return &model.OrderingViolation{Symbol: l.symbol, Last: last.TS, Got: c.TS}
	case c.TS.Equal(last.TS):
		return model.ErrDuplicateCandle
	}
	return nil
}

func (l *Lane) halt(err error) {
	l.mu.Lock()
	l.halted = err
	l.mu.Unlock()
	l.log.Error().Err(err).Msg("lane halted")
	l.deps.Notifier.Notify(notification.ErrorEvent(l.symbol, err, time.Now().UTC()))
	if m := l.deps.Metrics; m != nil {
		m.LaneHalted.WithLabelValues(l.symbol).Set(1)
		var ov *model.OrderingViolation
		if errors.As(err, &ov) {
			m.OrderingViolations.WithLabelValues(l.symbol).Inc()
		}
	}
}

func (l *Lane) setPrice(p float64) {
	l.mu.Lock()
	l.lastPrice = p
	l.mu.Unlock()
}

func (l *Lane) rejected(sig model.Signal, rej *model.RiskRejection) {
	l.log.Info().Str("kind", string(rej.Kind)).Str("detail", rej.Detail).Str("signal_id", sig.ID).Msg("risk rejection")
	if m := l.deps.Metrics; m != nil {
		m.RiskRejections.WithLabelValues(string(rej.Kind)).Inc()
	}
}

func (l *Lane) executionFailed(at time.Time, err error) {
	l.log.Error().Err(err).Msg("execution failed, state unchanged")
	l.deps.Notifier.Notify(notification.ErrorEvent(l.symbol, err, at))
	if m := l.deps.Metrics; m != nil {
		op := "unknown"
		var ef *model.ExecutionFailure
		if errors.As(err, &ef) {
			op = string(ef.Op)
		}
		m.ExecutionFailures.WithLabelValues(op).Inc()
	}
}

// persist runs a store write. Failures are logged and counted; memory
// state stays authoritative.
func (l *Lane) persist(ctx context.Context, op string, write func(context.Context) error) {
	if err := write(context.WithoutCancel(ctx)); err != nil {
		log := logger.Ctx(ctx, l.log)
		log.Warn().Err(err).Str("op", op).Msg("persistence failure")
	}
}
