package model

import "time"

// EventKind distinguishes the two market events a feed delivers.
type EventKind int

const (
	EventTick EventKind = iota
	EventCandle
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventCandle:
		return "candle"
	default:
		return "unknown"
	}
}

// Tick is a live trade/last price for a symbol, used only for
// stop-loss/take-profit monitoring.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"`
}

// MarketEvent is one item of a symbol's ordered feed: either a price tick
// or a closed candle.
type MarketEvent struct {
	Kind   EventKind
	Tick   Tick
	Candle Candle
}

// Symbol returns the symbol the event belongs to.
func (e MarketEvent) Symbol() string {
	if e.Kind == EventCandle {
		return e.Candle.Symbol
	}
	return e.Tick.Symbol
}

// CandleEvent wraps a closed candle.
func CandleEvent(c Candle) MarketEvent { return MarketEvent{Kind: EventCandle, Candle: c} }

// TickEvent wraps a price tick.
func TickEvent(t Tick) MarketEvent { return MarketEvent{Kind: EventTick, Tick: t} }
