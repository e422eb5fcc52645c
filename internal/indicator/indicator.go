// Package indicator provides incremental technical indicators over a
// per-symbol candle stream.
//
// Every indicator is O(1) per update: no window rescans. The Engine composes
// RSI and MACD for one symbol and produces a Snapshot after each closed
// candle.
package indicator

import "sniperbot/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_12", "RSI_14").
	Name() string

	// Update feeds a new closed candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

var (
	_ Indicator = (*EMA)(nil)
	_ Indicator = (*RSI)(nil)
	_ Indicator = (*MACD)(nil)
)

// Standard periods.
const (
	RSIPeriod     = 14
	FastPeriod    = 12
	SlowPeriod    = 26
	SignalPeriod  = 9
	NormPeriod    = 14
	WarmupCandles = SlowPeriod + SignalPeriod - 1
)
