package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message is the JSON envelope for everything sent over the socket.
type Message struct {
	Type    string `json:"type"`    // e.g. "grid_changed", "money_changed", "full_state"
	Payload any    `json:"payload"` // Event data
	Sender  string `json:"sender"`  // "sim" for simulation events
}

// Client is one connected viewer.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps the set of connected clients and fans broadcast messages out
// to them. Clients only listen; mutations go through the POST endpoints.
type Hub struct {
	clients map[*Client]bool

	// Broadcast is buffered; Publish never blocks the simulation.
	Broadcast chan []byte

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			slog.Info("ws client connected", "client", c.ID, "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				slog.Info("ws client disconnected", "client", c.ID, "clients", len(h.clients))
			}

		case msg := <-h.Broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
					slog.Warn("ws client dropped, send buffer full", "client", c.ID)
				}
			}
		}
	}
}

// Publish encodes a simulation event and queues it for broadcast.
func (h *Hub) Publish(typ string, payload any) {
	data, err := json.Marshal(Message{Type: typ, Payload: payload, Sender: "sim"})
	if err != nil {
		slog.Error("ws encode failed", "type", typ, "error", err)
		return
	}
	select {
	case h.Broadcast <- data:
	default:
		slog.Warn("ws broadcast queue full, dropping event", "type", typ)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWs upgrades the request and registers a client. hello is the first
// message the client receives; register runs with it so callers can take
// a snapshot and register atomically with respect to simulation events.
func (h *Hub) serveWs(w http.ResponseWriter, r *http.Request, attach func(register func(hello Message))) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}

	c := &Client{ID: uuid.NewString(), hub: h, conn: conn, send: make(chan []byte, 256)}
	registered := false
	attach(func(hello Message) {
		data, err := json.Marshal(hello)
		if err != nil {
			slog.Error("ws encode failed", "type", hello.Type, "error", err)
			return
		}
		c.send <- data
		select {
		case h.register <- c:
			registered = true
		case <-h.done:
		}
	})
	if !registered {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// readPump discards inbound frames and watches for the connection closing.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("ws read error", "client", c.ID, "error", err)
			}
			return
		}
	}
}

// writePump sends queued messages until the hub closes c.send.
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
