// Package store holds the in-memory Store used by backtests and tests,
// and the retrying wrapper that keeps the decision loop running through
// database outages. The SQL implementation lives in store/sqlstore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"sniperbot/internal/model"
)

// Memory is a goroutine-safe in-memory model.Store.
type Memory struct {
	mu        sync.RWMutex
	candles   map[string]map[int64]model.Candle
	signals   map[string]model.Signal
	signalIDs []string
	positions map[string]model.Position
}

var _ model.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		candles:   make(map[string]map[int64]model.Candle),
		signals:   make(map[string]model.Signal),
		positions: make(map[string]model.Position),
	}
}

func (m *Memory) UpsertCandle(_ context.Context, c model.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySym, ok := m.candles[c.Symbol]
	if !ok {
		bySym = make(map[int64]model.Candle)
		m.candles[c.Symbol] = bySym
	}
	bySym[c.TS.UnixNano()] = c
	return nil
}

func (m *Memory) AppendSignal(_ context.Context, s model.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.signals[s.ID]; dup {
		return nil
	}
	m.signals[s.ID] = s
	m.signalIDs = append(m.signalIDs, s.ID)
	return nil
}

func (m *Memory) UpsertPosition(_ context.Context, p model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.TradeID] = p
	return nil
}

func (m *Memory) OpenPositions(_ context.Context) ([]model.Position, error) {
	return m.filterPositions(func(p model.Position) bool { return p.Status == model.StatusOpen }), nil
}

func (m *Memory) ClosedPositions(_ context.Context, symbol string) ([]model.Position, error) {
	return m.filterPositions(func(p model.Position) bool {
		return p.Symbol == symbol && p.Status != model.StatusOpen
	}), nil
}

func (m *Memory) filterPositions(keep func(model.Position) bool) []model.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Position
	for _, p := range m.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].TradeID < out[j].TradeID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (m *Memory) RecentCandles(_ context.Context, symbol string, limit int) ([]model.Candle, error) {
	all := m.sortedCandles(symbol)
	if limit <= 0 {
		return nil, nil
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *Memory) Candles(_ context.Context, symbol string, from, to time.Time) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range m.sortedCandles(symbol) {
		if c.TS.Before(from) || (!to.IsZero() && !c.TS.Before(to)) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) sortedCandles(symbol string) []model.Candle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Candle, 0, len(m.candles[symbol]))
	for _, c := range m.candles[symbol] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// Signals returns stored signals of symbol in insertion order.
func (m *Memory) Signals(_ context.Context, symbol string) ([]model.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Signal
	for _, id := range m.signalIDs {
		if s := m.signals[id]; s.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out, nil
}

// TradeStats aggregates the closed trades of symbol.
func (m *Memory) TradeStats(ctx context.Context, symbol string) (model.TradeStats, error) {
	closed, _ := m.ClosedPositions(ctx, symbol)
	return model.StatsFor(closed), nil
}

func (m *Memory) Close() error { return nil }
