package execution

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"sniperbot/internal/model"
)

func TestPaperExecutor_RoundTripBooksPnL(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExecutor(10000, 0, zerolog.Nop())

	res, err := p.PlaceOrder(ctx, model.OrderIntent{Symbol: "ETHUSDT", Side: model.SideLong, Quantity: 5, EntryPrice: 2000})
	if err != nil {
		t.Fatal(err)
	}
	if res.OrderID != "PAPER-1" || res.FilledPrice != 2000 || res.FilledQty != 5 {
		t.Errorf("result=%+v", res)
	}

	conf, err := p.CloseOrder(ctx, model.CloseRequest{OrderID: res.OrderID, Symbol: "ETHUSDT", Side: model.SideLong, Quantity: 5, Price: 1960})
	if err != nil {
		t.Fatal(err)
	}
	if conf.OrderID != "PAPER-2" || conf.Price != 1960 {
		t.Errorf("confirmation=%+v", conf)
	}

	bal, _ := p.AccountBalance(ctx)
	if math.Abs(bal-9800) > 1e-9 {
		t.Errorf("balance=%v, want 9800", bal)
	}
	if n := len(p.GetFills()); n != 2 {
		t.Errorf("fills=%d, want 2", n)
	}
}

func TestPaperExecutor_SlippageAgainstTrader(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExecutor(10000, 10, zerolog.Nop()) // 0.1%

	res, _ := p.PlaceOrder(ctx, model.OrderIntent{Symbol: "ETHUSDT", Side: model.SideShort, Quantity: 1, EntryPrice: 2000})
	if math.Abs(res.FilledPrice-1998) > 1e-9 {
		t.Errorf("short entry fill=%v, want 1998", res.FilledPrice)
	}
	conf, _ := p.CloseOrder(ctx, model.CloseRequest{OrderID: res.OrderID, Side: model.SideShort, Quantity: 1, Price: 1900})
	if math.Abs(conf.Price-1901.9) > 1e-9 {
		t.Errorf("short exit fill=%v, want 1901.9", conf.Price)
	}
	// (1901.9 - 1998) * 1 * -1 = 96.1
	bal, _ := p.AccountBalance(ctx)
	if math.Abs(bal-10096.1) > 1e-9 {
		t.Errorf("balance=%v", bal)
	}
}
