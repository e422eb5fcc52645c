package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sniperbot/internal/notification"
)

func newHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(16, zerolog.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, h *Hub, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	want := h.ClientCount() + 1
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

func event(kind notification.Kind, symbol string) notification.Event {
	return notification.Event{Kind: kind, Level: notification.LevelInfo, Symbol: symbol, Title: string(kind)}
}

func TestHub_FiltersBySymbol(t *testing.T) {
	h, srv := newHub(t)
	conn := dial(t, h, srv, "?symbols=btc/usdt")
	ctx := context.Background()

	h.Send(ctx, event(notification.KindSignal, "ETHUSDT"))
	h.Send(ctx, event(notification.KindPositionOpened, "BTCUSDT"))
	h.Send(ctx, event(notification.KindShutdown, ""))

	first := read(t, conn)
	if first.Seq != 2 || first.Symbol != "BTCUSDT" || first.Kind != notification.KindPositionOpened {
		t.Errorf("first = %+v, want seq 2 BTCUSDT POSITION_OPENED", first)
	}
	second := read(t, conn)
	if second.Seq != 3 || second.Kind != notification.KindShutdown {
		t.Errorf("second = %+v, want seq 3 SHUTDOWN", second)
	}
}

func TestHub_BackfillSince(t *testing.T) {
	h, srv := newHub(t)
	ctx := context.Background()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		h.Send(ctx, event(notification.KindSignal, sym))
	}

	conn := dial(t, h, srv, "?since=1")
	for _, want := range []int64{2, 3} {
		if got := read(t, conn); got.Seq != want {
			t.Fatalf("backfill seq = %d, want %d", got.Seq, want)
		}
	}

	h.Send(ctx, event(notification.KindSignal, "BTCUSDT"))
	if got := read(t, conn); got.Seq != 4 {
		t.Errorf("live seq = %d, want 4", got.Seq)
	}
}

func TestHub_SubscribeMessage(t *testing.T) {
	h, srv := newHub(t)
	conn := dial(t, h, srv, "")

	if err := conn.WriteJSON(clientMsg{Type: "SUBSCRIBE", Symbols: []string{"ethusdt"}}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack clientMsg
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "SUBSCRIBED" || len(ack.Symbols) != 1 || ack.Symbols[0] != "ETHUSDT" {
		t.Fatalf("ack = %+v", ack)
	}

	ctx := context.Background()
	h.Send(ctx, event(notification.KindSignal, "BTCUSDT"))
	h.Send(ctx, event(notification.KindSignal, "ETHUSDT"))
	if got := read(t, conn); got.Symbol != "ETHUSDT" || got.Seq != 2 {
		t.Errorf("got %+v, want ETHUSDT seq 2", got)
	}
}

func TestHub_CloseDisconnects(t *testing.T) {
	h, srv := newHub(t)
	var observed atomic.Int32
	observed.Store(-1)
	h.OnClients = func(n int) { observed.Store(int32(n)) }

	conn := dial(t, h, srv, "")
	if observed.Load() != 1 {
		t.Fatalf("observed clients = %d, want 1", observed.Load())
	}

	h.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close")
	}
	if h.ClientCount() != 0 || observed.Load() != 0 {
		t.Errorf("clients = %d observed = %d, want 0", h.ClientCount(), observed.Load())
	}
	if err := h.Send(context.Background(), event(notification.KindSignal, "BTCUSDT")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestHub_InvalidSince(t *testing.T) {
	_, srv := newHub(t)
	resp, err := http.Get(srv.URL + "/?since=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
