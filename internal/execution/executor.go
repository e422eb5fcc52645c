// Package execution defines the order executor port used by the decision
// engine and a simulated executor for paper trading and backtests.
//
// The live implementation lives in internal/exchange/binance.
package execution

import (
	"context"

	"sniperbot/internal/model"
)

// Executor places and closes orders on a venue. Every call blocks until the
// venue acknowledges or fails; the caller commits position state only on a
// nil error.
type Executor interface {
	// PlaceOrder opens a position described by intent.
	PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderResult, error)

	// CloseOrder flattens the position opened by req.OrderID.
	CloseOrder(ctx context.Context, req model.CloseRequest) (model.Confirmation, error)

	// AccountBalance returns the free quote-currency balance.
	AccountBalance(ctx context.Context) (float64, error)
}
