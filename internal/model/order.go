package model

import "time"

// OrderIntent is a risk-approved request to open a position.
type OrderIntent struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	SignalID   string  `json:"signal_id"`
}

// OrderResult is the executor's acknowledgment of an entry order.
type OrderResult struct {
	OrderID     string    `json:"order_id"`
	FilledPrice float64   `json:"filled_price"`
	FilledQty   float64   `json:"filled_qty"`
	FilledAt    time.Time `json:"filled_at"`
}

// CloseRequest asks the executor to flatten an open position.
type CloseRequest struct {
	OrderID  string  `json:"order_id"` // entry order being closed
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"` // side of the position, not of the closing order
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"` // reference exit price
}

// Confirmation is the executor's acknowledgment of a close order.
type Confirmation struct {
	OrderID string  `json:"order_id"`
	Price   float64 `json:"price"`
}
