package indicator

import (
	"strconv"

	"sniperbot/internal/model"
)

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + price) / period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

func (s *SMMA) Name() string { return "SMMA_" + strconv.Itoa(s.period) }

func (s *SMMA) Update(candle model.Candle) { s.Add(candle.Close) }

// Add feeds a raw value.
func (s *SMMA) Add(v float64) {
	s.count++

	if s.count <= s.period {
		s.sum += v
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	s.current = (s.current*float64(s.period-1) + v) / float64(s.period)
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }

// Mean returns the smoothed value once ready, and the plain average of the
// values seen so far before that.
func (s *SMMA) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	if s.count < s.period {
		return s.sum / float64(s.count)
	}
	return s.current
}
