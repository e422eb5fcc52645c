// Package gateway streams bot events to WebSocket clients. The Hub is a
// notification sink: every event the dispatcher delivers is sequenced,
// kept in a replay ring and fanned out to connected clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sniperbot/internal/model"
	"sniperbot/internal/notification"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("gateway: hub closed")

const sendQueue = 64

// Envelope is the wire form of a streamed event.
type Envelope struct {
	Seq int64 `json:"seq"`
	notification.Event
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Hub tracks connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	seq     int64
	replay  *ReplayBuffer
	closed  bool
	log     zerolog.Logger

	// OnClients, when set, observes the client count after each change.
	OnClients func(n int)
}

// NewHub creates a hub keeping the last replaySize events for backfill.
func NewHub(replaySize int, log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		replay:  NewReplayBuffer(replaySize),
		log:     log.With().Str("component", "gateway").Logger(),
	}
}

// Send sequences ev and broadcasts it. Clients whose queue is full are
// disconnected; they can reconnect with ?since to catch up.
func (h *Hub) Send(_ context.Context, ev notification.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	h.seq++
	data, err := json.Marshal(Envelope{Seq: h.seq, Event: ev})
	if err != nil {
		return err
	}
	h.replay.Push(h.seq, ev.Symbol, data)

	for c := range h.clients {
		if !c.wants(ev.Symbol) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn().Str("remote", c.remote).Msg("stream client too slow, dropping")
			h.drop(c)
		}
	}
	return nil
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request. Query parameters: symbols (comma
// separated filter) and since (backfill events after this seq).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var since int64 = -1
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}
	symbols := splitSymbols(r.URL.Query().Get("symbols"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		conn:   conn,
		hub:    h,
		remote: r.RemoteAddr,
	}
	c.setSymbols(symbols)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	// Backfill and registration share the lock so no event is missed
	// or repeated between them.
	var backlog []replayEntry
	if since >= 0 {
		backlog = h.replay.Since(since)
	}
	c.send = make(chan []byte, sendQueue+len(backlog))
	for _, e := range backlog {
		if c.wants(e.Symbol) {
			c.send <- e.Data
		}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.observe(n)
	h.log.Info().Str("remote", c.remote).Strs("symbols", symbols).Int("backfill", len(backlog)).Msg("stream client connected")

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.drop(c)
	}
	h.mu.Unlock()
	h.observe(0)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		h.drop(c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.observe(n)
		h.log.Info().Str("remote", c.remote).Msg("stream client disconnected")
	}
}

// reply queues a direct response to c if it is still registered.
func (h *Hub) reply(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// drop requires h.mu held for writing.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) observe(n int) {
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = model.NormalizeSymbol(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
