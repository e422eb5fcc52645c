// Package notification delivers trading events to external channels
// (Discord, Telegram, Redis pub/sub, Kafka). Delivery is best-effort:
// failures are logged and never reach the decision loop.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sniperbot/internal/model"
)

// Level represents the severity of an event.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Kind identifies what happened.
type Kind string

const (
	KindSignal         Kind = "SIGNAL"
	KindPositionOpened Kind = "POSITION_OPENED"
	KindPositionClosed Kind = "POSITION_CLOSED"
	KindError          Kind = "ERROR"
	KindStartup        Kind = "STARTUP"
	KindShutdown       Kind = "SHUTDOWN"
)

// Field is a labelled value rendered by the richer sinks.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Event is a notification to be sent.
type Event struct {
	Kind     Kind            `json:"kind"`
	Level    Level           `json:"level"`
	Symbol   string          `json:"symbol,omitempty"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Fields   []Field         `json:"fields,omitempty"`
	TS       time.Time       `json:"ts"`
	Signal   *model.Signal   `json:"signal,omitempty"`
	Position *model.Position `json:"position,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an event. Returns error if delivery fails.
	Send(ctx context.Context, ev Event) error
}

// SignalEvent reports an emitted signal.
func SignalEvent(sig model.Signal) Event {
	return Event{
		Kind:    KindSignal,
		Level:   LevelInfo,
		Symbol:  sig.Symbol,
		Title:   fmt.Sprintf("Trading Signal: %s", sig.Symbol),
		Message: fmt.Sprintf("New %s signal with %.1f%% confidence", sig.Action, sig.Confidence*100),
		Fields: []Field{
			{"Action", string(sig.Action)},
			{"Price", money(sig.Price)},
			{"Trend", string(sig.Trend)},
			{"Confidence", fmt.Sprintf("%.2f%%", sig.Confidence*100)},
		},
		TS:     sig.TS,
		Signal: &sig,
	}
}

// PositionOpenedEvent reports a new position.
func PositionOpenedEvent(p model.Position) Event {
	return Event{
		Kind:    KindPositionOpened,
		Level:   LevelInfo,
		Symbol:  p.Symbol,
		Title:   fmt.Sprintf("Position Opened: %s", p.Symbol),
		Message: fmt.Sprintf("New %s position opened", p.Side),
		Fields: []Field{
			{"Entry Price", money(p.EntryPrice)},
			{"Size", fmt.Sprintf("%g", p.Quantity)},
			{"Stop Loss", money(p.StopLoss)},
			{"Take Profit", money(p.TakeProfit)},
		},
		TS:       p.OpenedAt,
		Position: &p,
	}
}

// PositionClosedEvent reports a closed or cancelled position.
func PositionClosedEvent(p model.Position) Event {
	lvl := LevelInfo
	if p.PnL < 0 {
		lvl = LevelWarning
	}
	return Event{
		Kind:    KindPositionClosed,
		Level:   lvl,
		Symbol:  p.Symbol,
		Title:   fmt.Sprintf("Position Closed: %s", p.Symbol),
		Message: fmt.Sprintf("%s position closed (%s)", p.Side, p.ExitReason),
		Fields: []Field{
			{"Entry Price", money(p.EntryPrice)},
			{"Exit Price", money(p.ExitPrice)},
			{"PnL", money(p.PnL)},
			{"Size", fmt.Sprintf("%g", p.Quantity)},
		},
		TS:       p.ClosedAt,
		Position: &p,
	}
}

// ErrorEvent reports a failure in the bot.
func ErrorEvent(symbol string, err error, at time.Time) Event {
	return Event{
		Kind:    KindError,
		Level:   LevelCritical,
		Symbol:  symbol,
		Title:   "Error",
		Message: err.Error(),
		TS:      at,
	}
}

// StartupEvent announces the bot starting on symbols.
func StartupEvent(symbols []string, timeframe string, at time.Time) Event {
	return Event{
		Kind:    KindStartup,
		Level:   LevelInfo,
		Title:   "Sniper Bot Started",
		Message: "Trading bot is now running",
		Fields:  []Field{{"Symbols", fmt.Sprint(symbols)}, {"Timeframe", timeframe}},
		TS:      at,
	}
}

// ShutdownEvent announces a graceful stop.
func ShutdownEvent(at time.Time) Event {
	return Event{
		Kind:    KindShutdown,
		Level:   LevelInfo,
		Title:   "Sniper Bot Stopped",
		Message: "Trading bot has been shut down",
		TS:      at,
	}
}

func money(v float64) string { return fmt.Sprintf("$%.2f", v) }

// LogNotifier writes events to the structured log. Always attached.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, ev Event) error {
	e := n.log.Info()
	switch ev.Level {
	case LevelWarning:
		e = n.log.Warn()
	case LevelCritical:
		e = n.log.Error()
	}
	e = e.Str("kind", string(ev.Kind)).Str("title", ev.Title)
	if ev.Symbol != "" {
		e = e.Str("symbol", ev.Symbol)
	}
	for _, f := range ev.Fields {
		e = e.Str(f.Name, f.Value)
	}
	e.Msg(ev.Message)
	return nil
}
