package portfolio

import (
	"fmt"
	"math"

	"sniperbot/internal/model"
)

// RiskLimits are the configured risk parameters. Percentages are 0-100.
type RiskLimits struct {
	RiskPerTrade      float64 `json:"risk_per_trade"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
	MinConfidence     float64 `json:"min_confidence"`
	MaxPositions      int     `json:"max_positions"`
	SizeMultiplier    float64 `json:"size_multiplier"` // scales quantity; <= 0 means 1
}

// DefaultRiskLimits returns the bot's stock settings.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		RiskPerTrade:      2.0,
		StopLossPercent:   2.0,
		TakeProfitPercent: 4.0,
		MinConfidence:     0.7,
		MaxPositions:      3,
		SizeMultiplier:    1,
	}
}

// RiskManager sizes trades from account balance and risk limits.
// It has no state and no side effects; Size is safe to call speculatively.
type RiskManager struct {
	limits RiskLimits
}

// NewRiskManager creates a RiskManager with the given limits.
func NewRiskManager(limits RiskLimits) *RiskManager {
	return &RiskManager{limits: limits}
}

// Limits returns the configured limits.
func (rm *RiskManager) Limits() RiskLimits { return rm.limits }

// Size turns an actionable signal into an order intent:
//
//	quantity    = (balance * risk%) / (entry * stopLoss%) * sizeMultiplier
//	stop_loss   = entry * (1 ∓ stopLoss%)
//	take_profit = entry * (1 ± takeProfit%)
//
// openPositions is the number of positions currently open or reserved
// across all symbols. Refusals are returned as *model.RiskRejection.
func (rm *RiskManager) Size(sig model.Signal, balance float64, openPositions int) (model.OrderIntent, error) {
	side, ok := model.SideFor(sig.Action)
	if !ok {
		return model.OrderIntent{}, &model.RiskRejection{Kind: model.RejectNoAction, Detail: string(sig.Action)}
	}
	if sig.Confidence < rm.limits.MinConfidence {
		return model.OrderIntent{}, &model.RiskRejection{
			Kind:   model.RejectBelowConfidence,
			Detail: fmt.Sprintf("%.3f < %.3f", sig.Confidence, rm.limits.MinConfidence),
		}
	}
	if openPositions >= rm.limits.MaxPositions {
		return model.OrderIntent{}, &model.RiskRejection{
			Kind:   model.RejectCapacityExceeded,
			Detail: fmt.Sprintf("%d open, max %d", openPositions, rm.limits.MaxPositions),
		}
	}

	entry := sig.Price
	riskAmount := balance * rm.limits.RiskPerTrade / 100
	stopDistance := entry * rm.limits.StopLossPercent / 100
	qty := riskAmount / stopDistance
	if rm.limits.SizeMultiplier > 0 {
		qty *= rm.limits.SizeMultiplier
	}
	if math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0 {
		return model.OrderIntent{}, &model.RiskRejection{
			Kind:   model.RejectInsufficientBalance,
			Detail: fmt.Sprintf("quantity %v from balance %.2f", qty, balance),
		}
	}
	// Allow for float rounding when notional lands exactly on the balance.
	if notional := qty * entry; notional > balance*(1+1e-9) {
		return model.OrderIntent{}, &model.RiskRejection{
			Kind:   model.RejectInsufficientBalance,
			Detail: fmt.Sprintf("notional %.2f exceeds balance %.2f", notional, balance),
		}
	}

	sign := side.Sign()
	return model.OrderIntent{
		Symbol:     sig.Symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: entry,
		StopLoss:   entry * (1 - sign*rm.limits.StopLossPercent/100),
		TakeProfit: entry * (1 + sign*rm.limits.TakeProfitPercent/100),
		SignalID:   sig.ID,
	}, nil
}
