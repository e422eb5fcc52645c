package model

import "time"

// Action is the decision carried by a Signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Trend labels where price sits relative to the fast and slow EMAs.
type Trend string

const (
	TrendUp   Trend = "UP"
	TrendDown Trend = "DOWN"
	TrendFlat Trend = "FLAT"
)

// Signal is an immutable trading decision produced from one indicator
// snapshot. It is persisted for audit and never mutated.
type Signal struct {
	ID         string    `json:"id"`
	TS         time.Time `json:"ts"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Price      float64   `json:"price"`
	Confidence float64   `json:"confidence"` // [0,1]
	Trend      Trend     `json:"trend"`
	Reason     string    `json:"reason,omitempty"`
}

// Actionable reports whether the signal asks for a Buy or Sell.
func (s Signal) Actionable() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}

// Opposes reports whether the signal points against an open position on side.
func (s Signal) Opposes(side Side) bool {
	switch side {
	case SideLong:
		return s.Action == ActionSell
	case SideShort:
		return s.Action == ActionBuy
	default:
		return false
	}
}
