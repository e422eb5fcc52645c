package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// The decision core talks to the outside world only through these. Concrete
// implementations live in internal/exchange, internal/execution and
// internal/store.

// MarketDataFeed delivers a strictly ordered stream of ticks and closed
// candles for one symbol. The channel is closed when the feed ends or ctx
// is cancelled. Reconnects and backfill are the feed's concern.
type MarketDataFeed interface {
	Subscribe(ctx context.Context, symbol string, interval time.Duration) (<-chan MarketEvent, error)
}

// Store persists candles, signals and positions. All writes are idempotent.
type Store interface {
	// UpsertCandle inserts or replaces the candle keyed by (symbol, ts).
	UpsertCandle(ctx context.Context, c Candle) error

	// AppendSignal inserts a signal; a second insert of the same id is a no-op.
	AppendSignal(ctx context.Context, s Signal) error

	// UpsertPosition inserts or replaces the position keyed by trade_id.
	UpsertPosition(ctx context.Context, p Position) error

	// OpenPositions returns every position whose status is OPEN.
	OpenPositions(ctx context.Context) ([]Position, error)

	// RecentCandles returns up to limit most recent candles, oldest first.
	RecentCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)

	// Candles returns candles in [from, to), oldest first. A zero to means no
	// upper bound.
	Candles(ctx context.Context, symbol string, from, to time.Time) ([]Candle, error)

	// ClosedPositions returns closed and cancelled positions, oldest first.
	ClosedPositions(ctx context.Context, symbol string) ([]Position, error)

	// Close releases underlying resources.
	Close() error
}

// TradeStats summarizes the closed trades of a symbol.
type TradeStats struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"`
}

// WinRate returns wins/trades in [0,1], or 0 with no trades.
func (s TradeStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// StatsFor folds closed positions into TradeStats. Cancelled positions do
// not count as trades.
func StatsFor(positions []Position) TradeStats {
	var st TradeStats
	for _, p := range positions {
		if p.Status != StatusClosed {
			continue
		}
		st.Trades++
		st.TotalPnL += p.PnL
		switch {
		case p.PnL > 0:
			st.Wins++
		case p.PnL < 0:
			st.Losses++
		}
	}
	return st
}
