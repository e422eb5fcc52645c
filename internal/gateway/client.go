package gateway

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// Client is a single WebSocket peer.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	remote string

	mu      sync.RWMutex
	symbols map[string]struct{} // empty means all
}

// clientMsg is what peers may send.
type clientMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
	Ping    int64    `json:"ping,omitempty"`
}

func (c *Client) setSymbols(symbols []string) {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	c.mu.Lock()
	c.symbols = set
	c.mu.Unlock()
}

// wants reports whether an event for symbol passes the filter. Events
// without a symbol (startup, shutdown) always pass.
func (c *Client) wants(symbol string) bool {
	if symbol == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.symbols) == 0 {
		return true
	}
	_, ok := c.symbols[symbol]
	return ok
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per envelope so clients can decode each message whole.
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.setSymbols(splitSymbols(strings.Join(msg.Symbols, ",")))
			c.ack("SUBSCRIBED", msg)
		case "PING":
			c.ack("PONG", msg)
		}
	}
}

func (c *Client) ack(kind string, msg clientMsg) {
	c.mu.RLock()
	syms := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		syms = append(syms, s)
	}
	c.mu.RUnlock()
	sort.Strings(syms)

	out := clientMsg{Type: kind, Ping: msg.Ping}
	if kind == "SUBSCRIBED" {
		out.Symbols = syms
	}
	data, _ := json.Marshal(out)
	c.hub.reply(c, data)
}
