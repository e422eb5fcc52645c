package model

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ETH/USDT", "ETHUSDT"},
		{" btc/usdt ", "BTCUSDT"},
		{"SOLUSDT", "SOLUSDT"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSignalOpposes(t *testing.T) {
	buy := Signal{Action: ActionBuy}
	sell := Signal{Action: ActionSell}
	hold := Signal{Action: ActionHold}

	if !sell.Opposes(SideLong) || !buy.Opposes(SideShort) {
		t.Error("opposite actions should oppose")
	}
	if buy.Opposes(SideLong) || sell.Opposes(SideShort) {
		t.Error("same-direction actions should not oppose")
	}
	if hold.Opposes(SideLong) || hold.Opposes(SideShort) || hold.Actionable() {
		t.Error("hold neither opposes nor acts")
	}
}

func TestSideFor(t *testing.T) {
	if s, ok := SideFor(ActionBuy); !ok || s != SideLong || s.Sign() != 1 {
		t.Errorf("buy → %q, %v", s, ok)
	}
	if s, ok := SideFor(ActionSell); !ok || s != SideShort || s.Sign() != -1 {
		t.Errorf("sell → %q, %v", s, ok)
	}
	if _, ok := SideFor(ActionHold); ok {
		t.Error("hold should have no side")
	}
}

func TestStatsFor(t *testing.T) {
	positions := []Position{
		{Status: StatusClosed, PnL: 40},
		{Status: StatusClosed, PnL: -10},
		{Status: StatusClosed, PnL: 25},
		{Status: StatusCancelled, PnL: 0},
		{Status: StatusOpen},
	}
	st := StatsFor(positions)
	if st.Trades != 3 || st.Wins != 2 || st.Losses != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if math.Abs(st.TotalPnL-55) > 1e-9 {
		t.Errorf("TotalPnL = %v, want 55", st.TotalPnL)
	}
	if math.Abs(st.WinRate()-2.0/3.0) > 1e-9 {
		t.Errorf("WinRate = %v", st.WinRate())
	}
	if (TradeStats{}).WinRate() != 0 {
		t.Error("empty WinRate should be 0")
	}
}

func TestMarketEventSymbol(t *testing.T) {
	c := CandleEvent(Candle{Symbol: "ETHUSDT"})
	tk := TickEvent(Tick{Symbol: "BTCUSDT", Price: 1})
	if c.Symbol() != "ETHUSDT" || c.Kind.String() != "candle" {
		t.Errorf("candle event = %s/%s", c.Symbol(), c.Kind)
	}
	if tk.Symbol() != "BTCUSDT" || tk.Kind.String() != "tick" {
		t.Errorf("tick event = %s/%s", tk.Symbol(), tk.Kind)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("timeout")
	var err error = fmt.Errorf("enter: %w", &ExecutionFailure{Op: OpPlaceOrder, Symbol: "ETHUSDT", Err: cause})

	var ef *ExecutionFailure
	if !errors.As(err, &ef) || ef.Op != OpPlaceOrder {
		t.Fatalf("errors.As ExecutionFailure failed: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("ExecutionFailure should unwrap to its cause")
	}

	rej := &RiskRejection{Kind: RejectCapacityExceeded, Detail: "3/3 open"}
	if rej.Error() != "risk rejection: CAPACITY_EXCEEDED: 3/3 open" {
		t.Errorf("rejection message = %q", rej.Error())
	}

	ov := &OrderingViolation{
		Symbol: "ETHUSDT",
		Last:   time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
		Got:    time.Date(2024, 3, 1, 10, 4, 0, 0, time.UTC),
	}
	if ov.Error() != "ordering violation on ETHUSDT: candle 2024-03-01T10:04:00Z after 2024-03-01T10:05:00Z" {
		t.Errorf("violation message = %q", ov.Error())
	}
	if !errors.Is(&PersistenceFailure{Op: "upsert_candle", Err: cause}, cause) {
		t.Error("PersistenceFailure should unwrap to its cause")
	}
}
