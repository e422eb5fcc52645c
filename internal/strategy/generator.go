// Package strategy turns indicator snapshots into trading signals.
//
// The Generator is a fixed, explainable rule combination of three
// components: RSI extremes, MACD crossovers and trend alignment. It is a
// pure function of its inputs, so identical candle history always yields
// identical signals in live trading and in backtests.
package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"sniperbot/internal/indicator"
	"sniperbot/internal/model"
)

// Rule constants. Not user-tunable.
const (
	RSIOversold   = 30.0
	RSIOverbought = 70.0
	RSISpan       = 10.0 // RSI points beyond the boundary for full strength

	WeightRSI   = 0.30
	WeightMACD  = 0.30
	WeightTrend = 0.40

	CrossoverBase  = 0.6
	CrossoverScale = 0.4

	TrendDampen = 0.5
)

var signalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sniperbot/signal"))

// SignalID derives the deterministic id of the signal for symbol at ts.
func SignalID(symbol string, ts time.Time) string {
	return uuid.NewSHA1(signalNamespace, []byte(symbol+"|"+ts.UTC().Format(time.RFC3339Nano))).String()
}

// Generator produces signals gated by a minimum confidence.
type Generator struct {
	minConfidence float64
}

// NewGenerator creates a Generator. Signals below minConfidence are Hold.
func NewGenerator(minConfidence float64) *Generator {
	return &Generator{minConfidence: minConfidence}
}

// MinConfidence returns the configured gate.
func (g *Generator) MinConfidence() float64 { return g.minConfidence }

// Scores holds the per-direction component strengths, each in [0,1].
type Scores struct {
	RSIBuy, RSISell   float64
	MACDBuy, MACDSell float64
	Trend             model.Trend
}

// Generate evaluates snap for symbol at price. An invalid (warming up)
// snapshot always yields Hold with zero confidence.
func (g *Generator) Generate(symbol string, snap indicator.Snapshot, price float64) model.Signal {
	sig := model.Signal{
		ID:     SignalID(symbol, snap.TS),
		TS:     snap.TS,
		Symbol: symbol,
		Action: model.ActionHold,
		Price:  price,
		Trend:  model.TrendFlat,
	}
	if !snap.Valid {
		sig.Reason = "warming up"
		return sig
	}

	sc := Score(snap, price)
	buy, sell := Combine(sc)
	sig.Trend = sc.Trend

	switch {
	case buy > sell:
		sig.Confidence = buy
		if buy >= g.minConfidence {
			sig.Action = model.ActionBuy
		}
	case sell > buy:
		sig.Confidence = sell
		if sell >= g.minConfidence {
			sig.Action = model.ActionSell
		}
	default:
		sig.Confidence = buy
	}

	sig.Reason = fmt.Sprintf("rsi=%.2f buy=%.3f sell=%.3f macd_buy=%.3f macd_sell=%.3f trend=%s",
		snap.RSI, buy, sell, sc.MACDBuy, sc.MACDSell, sc.Trend)
	return sig
}

// Score computes the component strengths for a valid snapshot.
func Score(snap indicator.Snapshot, price float64) Scores {
	var sc Scores

	switch {
	case snap.RSI < RSIOversold:
		sc.RSIBuy = clamp01((RSIOversold - snap.RSI) / RSISpan)
	case snap.RSI > RSIOverbought:
		sc.RSISell = clamp01((snap.RSI - RSIOverbought) / RSISpan)
	}

	if snap.HasPrev {
		switch {
		case snap.PrevHistogram <= 0 && snap.MACDHistogram > 0:
			sc.MACDBuy = crossoverStrength(snap.MACDHistogram, snap.HistogramNorm)
		case snap.PrevHistogram >= 0 && snap.MACDHistogram < 0:
			sc.MACDSell = crossoverStrength(-snap.MACDHistogram, snap.HistogramNorm)
		}
	}

	sc.Trend = TrendOf(price, snap.EMAFast, snap.EMASlow)
	return sc
}

// Combine weights the components into buy and sell confidences in [0,1].
// Trend alignment adds weight; a trend against the direction halves it.
func Combine(sc Scores) (buy, sell float64) {
	buy = WeightRSI*sc.RSIBuy + WeightMACD*sc.MACDBuy
	sell = WeightRSI*sc.RSISell + WeightMACD*sc.MACDSell

	switch sc.Trend {
	case model.TrendUp:
		buy += WeightTrend
		sell *= TrendDampen
	case model.TrendDown:
		sell += WeightTrend
		buy *= TrendDampen
	case model.TrendFlat:
	}
	return clamp01(buy), clamp01(sell)
}

// TrendOf labels price against the fast and slow EMAs.
func TrendOf(price, emaFast, emaSlow float64) model.Trend {
	switch {
	case price > emaFast && price > emaSlow:
		return model.TrendUp
	case price < emaFast && price < emaSlow:
		return model.TrendDown
	default:
		return model.TrendFlat
	}
}

func crossoverStrength(absHist, norm float64) float64 {
	if norm <= 0 {
		return 1
	}
	return clamp01(CrossoverBase + CrossoverScale*absHist/norm)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
