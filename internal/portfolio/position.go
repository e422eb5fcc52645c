package portfolio

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"sniperbot/internal/model"
)

// State is the lifecycle state of a symbol's position slot.
type State string

const (
	StateIdle   State = "IDLE"   // never traded
	StateOpen   State = "OPEN"   // exactly one open position
	StateClosed State = "CLOSED" // last trade closed or cancelled
)

var (
	ErrPositionOpen   = errors.New("position already open")
	ErrNoOpenPosition = errors.New("no open position")
	ErrWrongSymbol    = errors.New("position belongs to another symbol")
)

var tradeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sniperbot/trade"))

// TradeID derives the deterministic trade id of the position opened from
// the given signal (or, without one, the given entry order).
func TradeID(signalID, orderID string) string {
	seed := signalID
	if seed == "" {
		seed = "order:" + orderID
	}
	return uuid.NewSHA1(tradeNamespace, []byte(seed)).String()
}

// PositionManager owns the position lifecycle of a single symbol.
// Mutations are serialized by the symbol's lane; the lock keeps concurrent
// readers (the operator API) consistent.
type PositionManager struct {
	mu     sync.RWMutex
	symbol string
	state  State
	pos    model.Position // open position, or the last closed one
}

// NewPositionManager creates an Idle manager for symbol.
func NewPositionManager(symbol string) *PositionManager {
	return &PositionManager{symbol: symbol, state: StateIdle}
}

// Symbol returns the managed symbol.
func (pm *PositionManager) Symbol() string { return pm.symbol }

// State returns the current lifecycle state.
func (pm *PositionManager) State() State {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.state
}

// Current returns the open position, if any.
func (pm *PositionManager) Current() (model.Position, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.state != StateOpen {
		return model.Position{}, false
	}
	return pm.pos, true
}

// Last returns the most recent position, open or not.
func (pm *PositionManager) Last() (model.Position, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.pos, pm.state != StateIdle
}

// Open records an acknowledged entry. It fails if a position is already
// open; the caller must only invoke it after the executor confirmed the
// order.
func (pm *PositionManager) Open(intent model.OrderIntent, res model.OrderResult, openedAt time.Time) (model.Position, error) {
	if intent.Symbol != pm.symbol {
		return model.Position{}, ErrWrongSymbol
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.state == StateOpen {
		return model.Position{}, ErrPositionOpen
	}

	entry := intent.EntryPrice
	if res.FilledPrice > 0 {
		entry = res.FilledPrice
	}
	qty := intent.Quantity
	if res.FilledQty > 0 {
		qty = res.FilledQty
	}

	pm.pos = model.Position{
		TradeID:    TradeID(intent.SignalID, res.OrderID),
		Symbol:     pm.symbol,
		Side:       intent.Side,
		EntryPrice: entry,
		Quantity:   qty,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		OpenedAt:   openedAt,
		Status:     model.StatusOpen,
		OrderID:    res.OrderID,
		SignalID:   intent.SignalID,
	}
	pm.state = StateOpen
	return pm.pos, nil
}

// CheckPrice tests a single price against the open position's thresholds.
// It returns the threshold price as the exit price.
func (pm *PositionManager) CheckPrice(price float64) (float64, model.ExitReason, bool) {
	return pm.CheckRange(price, price)
}

// CheckRange tests a bar's [low, high] range. The stop-loss is checked
// before the take-profit, so a bar that spans both exits at the stop.
func (pm *PositionManager) CheckRange(low, high float64) (float64, model.ExitReason, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.state != StateOpen {
		return 0, model.ExitNone, false
	}

	p := pm.pos
	switch p.Side {
	case model.SideLong:
		if low <= p.StopLoss {
			return p.StopLoss, model.ExitStopLoss, true
		}
		if high >= p.TakeProfit {
			return p.TakeProfit, model.ExitTakeProfit, true
		}
	case model.SideShort:
		if high >= p.StopLoss {
			return p.StopLoss, model.ExitStopLoss, true
		}
		if low <= p.TakeProfit {
			return p.TakeProfit, model.ExitTakeProfit, true
		}
	}
	return 0, model.ExitNone, false
}

// Close commits an acknowledged exit at exitPrice. pnl is
// (exit - entry) * quantity * sign(side).
func (pm *PositionManager) Close(exitPrice float64, closedAt time.Time, reason model.ExitReason) (model.Position, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.state != StateOpen {
		return model.Position{}, ErrNoOpenPosition
	}

	pm.pos.ExitPrice = exitPrice
	pm.pos.ClosedAt = closedAt
	pm.pos.PnL = pm.pos.PnLAt(exitPrice)
	pm.pos.Status = model.StatusClosed
	pm.pos.ExitReason = reason
	pm.pos.Manual = reason == model.ExitManual
	pm.state = StateClosed
	return pm.pos, nil
}

// Cancel drops the open position without an exit order, for reconciling
// with an exchange that no longer holds it. No pnl is recorded.
func (pm *PositionManager) Cancel(at time.Time) (model.Position, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.state != StateOpen {
		return model.Position{}, ErrNoOpenPosition
	}

	pm.pos.ClosedAt = at
	pm.pos.Status = model.StatusCancelled
	pm.pos.ExitReason = model.ExitCancelled
	pm.pos.Manual = true
	pm.state = StateClosed
	return pm.pos, nil
}

// Restore reinstates an open position loaded from the store after a
// restart.
func (pm *PositionManager) Restore(p model.Position) error {
	if p.Symbol != pm.symbol {
		return ErrWrongSymbol
	}
	if !p.IsOpen() {
		return ErrNoOpenPosition
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.state == StateOpen {
		return ErrPositionOpen
	}
	pm.pos = p
	pm.state = StateOpen
	return nil
}

// Unrealized returns the open position's pnl at price, or 0 when flat.
func (pm *PositionManager) Unrealized(price float64) float64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.state != StateOpen {
		return 0
	}
	return pm.pos.PnLAt(price)
}
