package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"sniperbot/internal/model"
)

// maxReplayGap caps one simulated wait so sparse history does not stall.
const maxReplayGap = 5 * time.Second

// Replayer reads stored candles and replays them, either as one merged
// slice for the backtest runner or as a paced MarketDataFeed for the live
// engine.
type Replayer struct {
	source   model.Store
	from, to time.Time
	speed    float64
	log      zerolog.Logger
}

// NewReplayer replays candles of source in [from, to). A zero to means no
// upper bound. speed 1 is real time, 100 is 100x, 0 is as fast as possible.
func NewReplayer(source model.Store, from, to time.Time, speed float64, log zerolog.Logger) *Replayer {
	return &Replayer{
		source: source,
		from:   from,
		to:     to,
		speed:  speed,
		log:    log.With().Str("component", "replay").Logger(),
	}
}

// Load returns the candles of every symbol merged in time order. Ties are
// broken by symbol so the order is stable across runs.
func (r *Replayer) Load(ctx context.Context, symbols []string) ([]model.Candle, error) {
	var all []model.Candle
	for _, s := range symbols {
		candles, err := r.source.Candles(ctx, s, r.from, r.to)
		if err != nil {
			return nil, fmt.Errorf("load %s candles: %w", s, err)
		}
		all = append(all, candles...)
	}
	sortCandles(all)
	r.log.Info().Int("candles", len(all)).Int("symbols", len(symbols)).Msg("history loaded")
	return all, nil
}

// Subscribe streams symbol's stored candles as closed-candle events.
func (r *Replayer) Subscribe(ctx context.Context, symbol string, _ time.Duration) (<-chan model.MarketEvent, error) {
	candles, err := r.source.Candles(ctx, symbol, r.from, r.to)
	if err != nil {
		return nil, fmt.Errorf("load %s candles: %w", symbol, err)
	}

	out := make(chan model.MarketEvent, 64)
	go func() {
		defer close(out)
		var prev time.Time
		for i, c := range candles {
			if r.speed > 0 && !prev.IsZero() {
				if gap := c.TS.Sub(prev); gap > 0 {
					wait := min(time.Duration(float64(gap)/r.speed), maxReplayGap)
					select {
					case <-ctx.Done():
						return
					case <-time.After(wait):
					}
				}
			}
			prev = c.TS

			select {
			case out <- model.CandleEvent(c):
			case <-ctx.Done():
				r.log.Info().Str("symbol", symbol).Int("emitted", i).Msg("replay cancelled")
				return
			}
		}
		r.log.Info().Str("symbol", symbol).Int("emitted", len(candles)).Msg("replay completed")
	}()
	return out, nil
}

func sortCandles(candles []model.Candle) {
	sort.SliceStable(candles, func(i, j int) bool {
		if !candles[i].TS.Equal(candles[j].TS) {
			return candles[i].TS.Before(candles[j].TS)
		}
		return candles[i].Symbol < candles[j].Symbol
	})
}
