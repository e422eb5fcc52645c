package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sniperbot/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingSink stores every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (r *recordingSink) Send(ctx context.Context, ev Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func TestEventConstructors(t *testing.T) {
	sig := model.Signal{Symbol: "ETHUSDT", Action: model.ActionBuy, Price: 2000, Confidence: 0.8, TS: t0}
	ev := SignalEvent(sig)
	if ev.Kind != KindSignal || ev.Symbol != "ETHUSDT" || !strings.Contains(ev.Message, "80.0%") {
		t.Errorf("signal event = %+v", ev)
	}

	p := model.Position{Symbol: "ETHUSDT", Side: model.SideLong, EntryPrice: 2000, ExitPrice: 1960,
		PnL: -200, ExitReason: model.ExitStopLoss, ClosedAt: t0}
	ev = PositionClosedEvent(p)
	if ev.Level != LevelWarning || !strings.Contains(ev.Message, "STOP_LOSS") {
		t.Errorf("closed event = %+v", ev)
	}
	if colorFor(ev) != colorRed {
		t.Errorf("losing close should be red")
	}

	ev = ErrorEvent("ETHUSDT", errors.New("boom"), t0)
	if ev.Level != LevelCritical || ev.Message != "boom" {
		t.Errorf("error event = %+v", ev)
	}
}

func TestDiscordNotifier_PostsEmbed(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %s", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordNotifier(srv.URL)
	ev := PositionOpenedEvent(model.Position{Symbol: "ETHUSDT", Side: model.SideShort, EntryPrice: 2000, OpenedAt: t0})
	if err := d.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %+v", got.Embeds)
	}
	e := got.Embeds[0]
	if e.Title != "Position Opened: ETHUSDT" || e.Color != colorRed || len(e.Fields) != 4 {
		t.Errorf("embed = %+v", e)
	}
	if e.Timestamp != "2024-03-01T12:00:00Z" {
		t.Errorf("timestamp = %s", e.Timestamp)
	}
}

func TestDiscordNotifier_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Send(context.Background(), ShutdownEvent(t0))
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestTelegramNotifier_SendsMarkdown(t *testing.T) {
	var sent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			sent = r.PostForm.Get("text")
			if r.PostForm.Get("parse_mode") != "MarkdownV2" {
				t.Errorf("parse_mode = %s", r.PostForm.Get("parse_mode"))
			}
			io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tn, err := newTelegramNotifier("TOKEN", 42, srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ev := SignalEvent(model.Signal{Symbol: "ETHUSDT", Action: model.ActionSell, Price: 1999.5, Confidence: 0.75})
	if err := tn.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(sent, `1999\.50`) {
		t.Errorf("text not escaped for MarkdownV2: %q", sent)
	}
}

func TestKafkaMessage_KeyedBySymbol(t *testing.T) {
	msg, err := kafkaMessage(SignalEvent(model.Signal{Symbol: "ETHUSDT", TS: t0}))
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "ETHUSDT" || !msg.Time.Equal(t0) {
		t.Errorf("msg = %+v", msg)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil || decoded.Kind != KindSignal {
		t.Errorf("value = %s (%v)", msg.Value, err)
	}

	msg, _ = kafkaMessage(StartupEvent([]string{"ETHUSDT"}, "1m", t0))
	if string(msg.Key) != string(KindStartup) {
		t.Errorf("symbol-less events keyed by kind, got %s", msg.Key)
	}

	if _, err := NewKafkaNotifier(nil, "t"); err == nil {
		t.Error("expected error without brokers")
	}
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{err: errors.New("down")}
	d := NewDispatcher(8, time.Second, zerolog.Nop())
	d.Attach("a", a)
	d.Attach("b", b)
	sendErrors := 0
	d.OnSendError = func(string) { sendErrors++ }

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Notify(StartupEvent([]string{"ETHUSDT"}, "1m", t0))
	d.Notify(ShutdownEvent(t0))
	cancel()
	<-d.Done()

	if got := a.kinds(); len(got) != 2 || got[0] != KindStartup || got[1] != KindShutdown {
		t.Errorf("sink a got %v", got)
	}
	if len(b.kinds()) != 2 || sendErrors != 2 {
		t.Errorf("failing sink should still receive every event: %v errors=%d", b.kinds(), sendErrors)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, time.Second, zerolog.Nop())
	d.Attach("r", &recordingSink{})

	// Not running: the second event has nowhere to go.
	d.Notify(ShutdownEvent(t0))
	d.Notify(ShutdownEvent(t0))
	if d.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", d.Dropped())
	}
}

func TestLogNotifier(t *testing.T) {
	var buf strings.Builder
	n := NewLogNotifier(zerolog.New(&buf))
	n.Send(context.Background(), ErrorEvent("ETHUSDT", errors.New("boom"), t0))
	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, `"kind":"ERROR"`) {
		t.Errorf("log line = %s", out)
	}
}
