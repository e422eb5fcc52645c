package indicator

import (
	"fmt"

	"sniperbot/internal/model"
)

// DefaultSeriesCapacity bounds how many closed candles a Series retains.
const DefaultSeriesCapacity = 500

// Series is an append-only, time-ordered buffer of closed candles for one
// symbol. It keeps the most recent capacity candles in a preallocated ring.
type Series struct {
	symbol string
	buf    []model.Candle
	idx    int // next write position
	count  int // total candles accepted
	last   model.Candle
}

// NewSeries creates a Series for symbol. capacity <= 0 uses
// DefaultSeriesCapacity.
func NewSeries(symbol string, capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultSeriesCapacity
	}
	return &Series{
		symbol: symbol,
		buf:    make([]model.Candle, capacity),
	}
}

// Append adds c to the series. A candle older than the last one returns
// *model.OrderingViolation; one with the same timestamp returns
// model.ErrDuplicateCandle. Neither mutates the series.
func (s *Series) Append(c model.Candle) error {
	if c.Symbol != s.symbol {
		return fmt.Errorf("series %s: candle for %s", s.symbol, c.Symbol)
	}
	if s.count > 0 {
		switch {
		case c.TS.Before(s.last.TS):
			return &model.OrderingViolation{Symbol: s.symbol, Last: s.last.TS, Got: c.TS}
		case c.TS.Equal(s.last.TS):
			return model.ErrDuplicateCandle
		}
	}

	s.buf[s.idx] = c
	s.idx = (s.idx + 1) % len(s.buf)
	s.count++
	s.last = c
	return nil
}

// Last returns the most recent candle.
func (s *Series) Last() (model.Candle, bool) {
	return s.last, s.count > 0
}

// Len returns the number of retained candles.
func (s *Series) Len() int { return min(s.count, len(s.buf)) }

// Total returns the number of candles ever accepted.
func (s *Series) Total() int { return s.count }

// Candles returns the retained candles, oldest first.
func (s *Series) Candles() []model.Candle {
	n := s.Len()
	out := make([]model.Candle, 0, n)
	start := (s.idx - n + len(s.buf)) % len(s.buf)
	for i := 0; i < n; i++ {
		out = append(out, s.buf[(start+i)%len(s.buf)])
	}
	return out
}
