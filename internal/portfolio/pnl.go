package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

// Ledger records closed trades in order and tracks the realized equity
// curve. Sums are kept in decimal so long runs do not accumulate float
// drift.
type Ledger struct {
	mu      sync.RWMutex
	trades  []model.Position
	initial decimal.Decimal
	equity  decimal.Decimal
	peak    decimal.Decimal
	maxDD   decimal.Decimal
	maxDDPc decimal.Decimal // of the peak at the time, 0-100
	wins    int
	losses  int
}

// NewLedger creates a ledger starting at initialEquity.
func NewLedger(initialEquity float64) *Ledger {
	eq := decimal.NewFromFloat(initialEquity)
	return &Ledger{
		trades:  make([]model.Position, 0, 256),
		initial: eq,
		equity:  eq,
		peak:    eq,
	}
}

// Record appends a closed position. Open and cancelled positions are
// ignored.
func (l *Ledger) Record(p model.Position) {
	if p.Status != model.StatusClosed {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.trades = append(l.trades, p)
	switch {
	case p.PnL > 0:
		l.wins++
	case p.PnL < 0:
		l.losses++
	}

	l.equity = l.equity.Add(decimal.NewFromFloat(p.PnL))
	if l.equity.GreaterThan(l.peak) {
		l.peak = l.equity
	}
	dd := l.peak.Sub(l.equity)
	if dd.GreaterThan(l.maxDD) {
		l.maxDD = dd
	}
	if l.peak.IsPositive() {
		if pct := dd.Div(l.peak).Mul(decimal.NewFromInt(100)); pct.GreaterThan(l.maxDDPc) {
			l.maxDDPc = pct
		}
	}
}

// Trades returns a snapshot of the recorded trades.
func (l *Ledger) Trades() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]model.Position, len(l.trades))
	copy(cp, l.trades)
	return cp
}

// LedgerSummary holds aggregate performance statistics.
type LedgerSummary struct {
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"` // 0-1
	TotalPnL       float64 `json:"total_pnl"`
	MaxDrawdown    float64 `json:"max_drawdown"`     // peak-to-trough, quote currency
	MaxDrawdownPct float64 `json:"max_drawdown_pct"` // of the peak, 0-100
	InitialEquity  float64 `json:"initial_equity"`
	FinalEquity    float64 `json:"final_equity"`
}

// Summary returns the current statistics.
func (l *Ledger) Summary() LedgerSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := LedgerSummary{
		Trades: len(l.trades),
		Wins:   l.wins,
		Losses: l.losses,
	}
	if s.Trades > 0 {
		s.WinRate = float64(l.wins) / float64(s.Trades)
	}
	s.TotalPnL = l.equity.Sub(l.initial).InexactFloat64()
	s.MaxDrawdown = l.maxDD.InexactFloat64()
	s.MaxDrawdownPct = l.maxDDPc.InexactFloat64()
	s.InitialEquity = l.initial.InexactFloat64()
	s.FinalEquity = l.equity.InexactFloat64()
	return s
}
