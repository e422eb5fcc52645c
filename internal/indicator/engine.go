package indicator

import (
	"time"

	"sniperbot/internal/model"
)

// Snapshot is the indicator state of one symbol after its latest candle.
type Snapshot struct {
	Symbol        string    `json:"symbol"`
	TS            time.Time `json:"ts"`
	Close         float64   `json:"close"`
	RSI           float64   `json:"rsi"`
	EMAFast       float64   `json:"ema_fast"`
	EMASlow       float64   `json:"ema_slow"`
	MACDLine      float64   `json:"macd_line"`
	MACDSignal    float64   `json:"macd_signal"`
	MACDHistogram float64   `json:"macd_histogram"`

	// PrevHistogram is the histogram one candle earlier; HasPrev is false
	// until two histogram values exist.
	PrevHistogram float64 `json:"prev_histogram"`
	HasPrev       bool    `json:"has_prev"`

	// HistogramNorm is the rolling mean of |histogram|.
	HistogramNorm float64 `json:"histogram_norm"`

	Valid   bool `json:"valid"`
	Candles int  `json:"candles"`

	// Pending names the indicators still warming up.
	Pending []string `json:"pending,omitempty"`
}

// Engine maintains RSI, EMA(fast), EMA(slow) and MACD for a single symbol.
// Not safe for concurrent use; the owning lane serializes calls.
type Engine struct {
	series *Series
	rsi    *RSI
	macd   *MACD
	all    []Indicator
	snap   Snapshot
}

// NewEngine creates an indicator engine for symbol with the standard
// periods (RSI 14, EMA 12/26, signal 9).
func NewEngine(symbol string) *Engine {
	e := &Engine{
		series: NewSeries(symbol, DefaultSeriesCapacity),
		rsi:    NewRSI(RSIPeriod),
		macd:   NewMACD(FastPeriod, SlowPeriod, SignalPeriod, NormPeriod),
	}
	e.all = []Indicator{e.rsi, e.macd}
	e.snap = Snapshot{Symbol: symbol, RSI: 50, Pending: e.pending()}
	return e
}

func (e *Engine) pending() []string {
	var out []string
	for _, ind := range e.all {
		if !ind.Ready() {
			out = append(out, ind.Name())
		}
	}
	return out
}

// Update appends a closed candle and recomputes every indicator.
// On an ordering violation or duplicate the state is untouched and the
// previous snapshot is returned with the error.
func (e *Engine) Update(c model.Candle) (Snapshot, error) {
	if err := e.series.Append(c); err != nil {
		return e.snap, err
	}

	for _, ind := range e.all {
		ind.Update(c)
	}
	pending := e.pending()

	prev, hasPrev := e.macd.PrevHistogram()
	e.snap = Snapshot{
		Symbol:        c.Symbol,
		TS:            c.TS,
		Close:         c.Close,
		RSI:           e.rsi.Value(),
		EMAFast:       e.macd.Fast().Value(),
		EMASlow:       e.macd.Slow().Value(),
		MACDLine:      e.macd.Line(),
		MACDSignal:    e.macd.Signal(),
		MACDHistogram: e.macd.Histogram(),
		PrevHistogram: prev,
		HasPrev:       hasPrev,
		HistogramNorm: e.macd.Norm(),
		Valid:         len(pending) == 0,
		Candles:       e.series.Total(),
		Pending:       pending,
	}
	return e.snap, nil
}

// Snapshot returns the current snapshot.
func (e *Engine) Snapshot() Snapshot { return e.snap }

// Series exposes the underlying candle buffer.
func (e *Engine) Series() *Series { return e.series }
