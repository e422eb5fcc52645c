package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sniperbot/internal/model"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID   string     `json:"order_id"`
	Symbol    string     `json:"symbol"`
	Side      model.Side `json:"side"`
	Closing   bool       `json:"closing"`
	FillPrice float64    `json:"fill_price"`
	FillQty   float64    `json:"fill_qty"`
	Slippage  float64    `json:"slippage"` // absolute price slippage applied
	FilledAt  time.Time  `json:"filled_at"`
}

type paperPosition struct {
	side  model.Side
	qty   float64
	price float64
}

// PaperExecutor simulates order execution without real venue calls. It
// always acknowledges, fills at the requested price adjusted by
// slippageBps, and books realized pnl into its balance.
type PaperExecutor struct {
	mu       sync.RWMutex
	fills    []Fill
	open     map[string]paperPosition // entry order id → position
	balance  float64
	orderSeq int64
	log      zerolog.Logger

	// Simulation parameters
	slippageBps float64 // basis points of slippage (e.g., 5 = 0.05%)
	clock       func() time.Time
}

// NewPaperExecutor creates a paper executor starting at initialBalance.
func NewPaperExecutor(initialBalance, slippageBps float64, log zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{
		fills:       make([]Fill, 0, 1000),
		open:        make(map[string]paperPosition),
		balance:     initialBalance,
		slippageBps: slippageBps,
		log:         log.With().Str("component", "paper").Logger(),
		clock:       time.Now,
	}
}

// WithClock replaces the fill timestamp source (backtests use candle time).
func (p *PaperExecutor) WithClock(clock func() time.Time) *PaperExecutor {
	p.clock = clock
	return p
}

func (p *PaperExecutor) PlaceOrder(ctx context.Context, intent model.OrderIntent) (model.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	// Buys fill higher, sells lower.
	fillPrice, slip := p.slip(intent.EntryPrice, intent.Side == model.SideLong)
	now := p.clock()
	p.fills = append(p.fills, Fill{
		OrderID:   orderID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		FillPrice: fillPrice,
		FillQty:   intent.Quantity,
		Slippage:  slip,
		FilledAt:  now,
	})
	p.open[orderID] = paperPosition{side: intent.Side, qty: intent.Quantity, price: fillPrice}

	p.log.Debug().Str("order_id", orderID).Str("symbol", intent.Symbol).Str("side", string(intent.Side)).
		Float64("qty", intent.Quantity).Float64("price", fillPrice).Float64("slip", slip).Msg("paper entry filled")

	return model.OrderResult{
		OrderID:     orderID,
		FilledPrice: fillPrice,
		FilledQty:   intent.Quantity,
		FilledAt:    now,
	}, nil
}

func (p *PaperExecutor) CloseOrder(ctx context.Context, req model.CloseRequest) (model.Confirmation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.open[req.OrderID]
	if !ok {
		// Positions restored from a previous run have no paper entry.
		pos = paperPosition{side: req.Side, qty: req.Quantity, price: req.Price}
	}
	delete(p.open, req.OrderID)

	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	// Closing a long sells, closing a short buys.
	fillPrice, slip := p.slip(req.Price, req.Side == model.SideShort)
	p.balance += (fillPrice - pos.price) * pos.qty * pos.side.Sign()
	p.fills = append(p.fills, Fill{
		OrderID:   orderID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Closing:   true,
		FillPrice: fillPrice,
		FillQty:   pos.qty,
		Slippage:  slip,
		FilledAt:  p.clock(),
	})

	p.log.Debug().Str("order_id", orderID).Str("entry_order", req.OrderID).
		Float64("price", fillPrice).Float64("balance", p.balance).Msg("paper exit filled")

	return model.Confirmation{OrderID: orderID, Price: fillPrice}, nil
}

func (p *PaperExecutor) AccountBalance(ctx context.Context) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance, nil
}

// GetFills returns a snapshot of all fills.
func (p *PaperExecutor) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *PaperExecutor) slip(price float64, up bool) (float64, float64) {
	if price <= 0 || p.slippageBps <= 0 {
		return price, 0
	}
	s := price * p.slippageBps / 10000
	if up {
		return price + s, s
	}
	return price - s, s
}
