package model

import "time"

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for Long and -1 for Short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// SideFor maps a Buy/Sell action to the side of the position it opens.
func SideFor(a Action) (Side, bool) {
	switch a {
	case ActionBuy:
		return SideLong, true
	case ActionSell:
		return SideShort, true
	default:
		return "", false
	}
}

// PositionStatus is the persisted lifecycle status of a trade.
type PositionStatus string

const (
	StatusOpen      PositionStatus = "OPEN"
	StatusClosed    PositionStatus = "CLOSED"
	StatusCancelled PositionStatus = "CANCELLED"
)

// ExitReason records what closed a position.
type ExitReason string

const (
	ExitNone           ExitReason = ""
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitOpposingSignal ExitReason = "OPPOSING_SIGNAL"
	ExitManual         ExitReason = "MANUAL"
	ExitCancelled      ExitReason = "CANCELLED"
)

// Position is a single trade. ClosedAt, ExitPrice and PnL are zero while
// the position is open.
type Position struct {
	TradeID    string         `json:"trade_id"`
	Symbol     string         `json:"symbol"`
	Side       Side           `json:"side"`
	EntryPrice float64        `json:"entry_price"`
	Quantity   float64        `json:"quantity"`
	StopLoss   float64        `json:"stop_loss"`
	TakeProfit float64        `json:"take_profit"`
	OpenedAt   time.Time      `json:"opened_at"`
	ClosedAt   time.Time      `json:"closed_at,omitempty"`
	ExitPrice  float64        `json:"exit_price,omitempty"`
	PnL        float64        `json:"pnl,omitempty"`
	Status     PositionStatus `json:"status"`
	Manual     bool           `json:"manual"`
	ExitReason ExitReason     `json:"exit_reason,omitempty"`
	OrderID    string         `json:"order_id"`
	SignalID   string         `json:"signal_id"`
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool { return p.Status == StatusOpen }

// PnLAt computes profit/loss if the position were closed at price.
func (p *Position) PnLAt(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity * p.Side.Sign()
}
