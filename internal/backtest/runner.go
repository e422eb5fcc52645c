// Package backtest replays historical candles through the same Lane code
// the live engine runs, against a paper executor whose clock follows the
// candles.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sniperbot/internal/engine"
	"sniperbot/internal/execution"
	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
	"sniperbot/internal/store"
	"sniperbot/internal/strategy"
)

// Config parameterizes a run.
type Config struct {
	Symbols        []string
	From, To       time.Time
	InitialBalance float64
	SlippageBps    float64
	Limits         portfolio.RiskLimits
}

// Runner executes backtests.
type Runner struct {
	cfg    Config
	source model.Store
	log    zerolog.Logger
}

// NewRunner creates a runner reading history from source.
func NewRunner(cfg Config, source model.Store, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, source: source, log: log.With().Str("component", "backtest").Logger()}
}

// Run loads the configured window and replays it.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	candles, err := NewReplayer(r.source, r.cfg.From, r.cfg.To, 0, r.log).Load(ctx, r.cfg.Symbols)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, errors.New("backtest: no candles in range")
	}
	return r.RunCandles(ctx, candles)
}

// RunCandles replays candles, which must be in time order per symbol.
// Symbols share one balance and one capacity book, as they do live.
func (r *Runner) RunCandles(ctx context.Context, candles []model.Candle) (*Report, error) {
	var now time.Time
	exec := execution.NewPaperExecutor(r.cfg.InitialBalance, r.cfg.SlippageBps, r.log).
		WithClock(func() time.Time { return now })
	records := store.NewMemory()
	deps := engine.Deps{
		Executor:  exec,
		Store:     records,
		Notifier:  engine.Discard,
		Risk:      portfolio.NewRiskManager(r.cfg.Limits),
		Generator: strategy.NewGenerator(r.cfg.Limits.MinConfidence),
		Book:      portfolio.NewBook(r.cfg.Limits.MaxPositions),
		Log:       r.log,
	}

	ledger := portfolio.NewLedger(r.cfg.InitialBalance)
	lanes := make(map[string]*engine.Lane)
	rep := &Report{Rejections: make(map[model.RejectionKind]int)}

	for i, c := range candles {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		lane, ok := lanes[c.Symbol]
		if !ok {
			var err error
			if lane, err = engine.NewLane(c.Symbol, deps); err != nil {
				return nil, err
			}
			lanes[c.Symbol] = lane
			rep.Symbols = append(rep.Symbols, c.Symbol)
		}

		now = c.TS
		out, err := lane.OnCandle(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("candle %d (%s %s): %w", i, c.Symbol, c.TS.Format(time.RFC3339), err)
		}
		rep.Candles++
		if out.Signal != nil && out.Signal.Actionable() {
			rep.Actionable++
		}
		if out.Rejection != nil {
			rep.Rejections[out.Rejection.Kind]++
		}
		if out.Closed != nil {
			ledger.Record(*out.Closed)
		}
	}

	for _, s := range rep.Symbols {
		sigs, err := records.Signals(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("collect signals for %s: %w", s, err)
		}
		rep.Signals = append(rep.Signals, sigs...)
		if p, ok := lanes[s].Positions().Current(); ok {
			rep.Open = append(rep.Open, p)
		}
	}
	rep.Trades = ledger.Trades()
	rep.Summary = ledger.Summary()
	rep.FinalBalance, _ = exec.AccountBalance(ctx)
	rep.Fills = len(exec.GetFills())
	if len(candles) > 0 {
		rep.From, rep.To = candles[0].TS, candles[len(candles)-1].TS
	}

	r.log.Info().Int("candles", rep.Candles).Int("trades", rep.Summary.Trades).
		Float64("pnl", rep.Summary.TotalPnL).Float64("win_rate", rep.Summary.WinRate).Msg("backtest complete")
	return rep, nil
}
