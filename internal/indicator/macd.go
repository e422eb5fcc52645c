package indicator

import (
	"math"

	"sniperbot/internal/model"
)

// MACD tracks the fast/slow EMA difference, its EMA signal line, and the
// histogram between them. It also keeps the previous histogram and a
// Wilder-smoothed mean of |histogram| so callers can detect crossovers and
// scale their strength.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	norm   *SMMA

	line      float64
	hist      float64
	prevHist  float64
	hasPrev   bool
	histCount int
}

// NewMACD creates a MACD(fast, slow, signal) with a normPeriod-long
// histogram normalization.
func NewMACD(fast, slow, signal, normPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
		norm:   NewSMMA(normPeriod),
	}
}

func (m *MACD) Name() string { return "MACD" }

func (m *MACD) Update(candle model.Candle) {
	m.fast.Add(candle.Close)
	m.slow.Add(candle.Close)
	if !m.slow.Ready() {
		return
	}

	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Add(m.line)
	if !m.signal.Ready() {
		return
	}

	if m.histCount > 0 {
		m.prevHist = m.hist
		m.hasPrev = true
	}
	m.hist = m.line - m.signal.Value()
	m.histCount++
	m.norm.Add(math.Abs(m.hist))
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Ready reports whether both the slow EMA and the signal EMA are warmed up.
func (m *MACD) Ready() bool { return m.slow.Ready() && m.signal.Ready() }

func (m *MACD) Line() float64      { return m.line }
func (m *MACD) Signal() float64    { return m.signal.Value() }
func (m *MACD) Histogram() float64 { return m.hist }
func (m *MACD) Fast() *EMA         { return m.fast }
func (m *MACD) Slow() *EMA         { return m.slow }

// PrevHistogram returns the histogram of the previous candle and whether one
// exists yet.
func (m *MACD) PrevHistogram() (float64, bool) { return m.prevHist, m.hasPrev }

// Norm returns the rolling mean of |histogram|.
func (m *MACD) Norm() float64 { return m.norm.Mean() }
