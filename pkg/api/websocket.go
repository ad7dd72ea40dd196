package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256

	maxRequestBytes = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced by the HTTP handler
		return true
	},
}

// Hub maintains active WebSocket connections and routes channel messages to
// the clients subscribed to them.
type Hub struct {
	log *zap.Logger

	// Registered clients
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns client registration until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("ws_connected", zap.String("client", client.id), zap.Int("total", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
				h.log.Info("ws_disconnected", zap.String("client", client.id), zap.Int("total", len(h.clients)))
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop removes client; h.mu must be held for writing.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasSubscribers reports whether any client listens on channel.
func (h *Hub) HasSubscribers(channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.IsSubscribed(channel) {
			return true
		}
	}
	return false
}

// BroadcastToChannel sends a message to all clients subscribed to a channel.
// It never blocks: a client whose buffer is full misses the message.
func (h *Hub) BroadcastToChannel(channel string, msg WSMessage) {
	msg.Channel = channel
	message, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("ws_marshal_failed", zap.String("channel", channel), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.IsSubscribed(channel) {
			select {
			case client.send <- message:
			default:
				h.log.Debug("ws_client_lagging", zap.String("client", client.id), zap.String("channel", channel))
			}
		}
	}
}

// Client is one WebSocket connection and the channels it listens on.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu        sync.RWMutex
	subscriptions map[string]bool
}

func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// apply updates the subscription set and returns the channels it accepted.
func (c *Client) apply(req WSSubscribeRequest) (accepted, rejected []string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range req.Channels {
		if !validChannel(ch) {
			rejected = append(rejected, ch)
			continue
		}
		if req.Op == "subscribe" {
			c.subscriptions[ch] = true
		} else {
			delete(c.subscriptions, ch)
		}
		accepted = append(accepted, ch)
	}
	return accepted, rejected
}

// validChannel accepts prices, trades, catalog, trades:<symbol> and
// portfolio:<trader>.
func validChannel(ch string) bool {
	switch ch {
	case "prices", "trades", "catalog":
		return true
	}
	name, arg, ok := strings.Cut(ch, ":")
	return ok && arg != "" && (name == "trades" || name == "portfolio")
}

// reply queues a control message for this client only.
func (c *Client) reply(msg WSMessage) {
	msg.Time = time.Now().UTC()
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.sendTo(c, b)
}

// sendTo queues b for c unless c has already been dropped, which closes its
// send channel.
func (h *Hub) sendTo(c *Client, b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// readPump applies subscription requests until the connection fails.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxRequestBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req WSSubscribeRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("ws_read_failed", zap.String("client", c.id), zap.Error(err))
			}
			var syn *json.SyntaxError
			var typ *json.UnmarshalTypeError
			if errors.As(err, &syn) || errors.As(err, &typ) {
				c.reply(WSMessage{Type: "error", Data: "malformed request"})
				continue
			}
			return
		}
		if req.Op != "subscribe" && req.Op != "unsubscribe" {
			c.reply(WSMessage{Type: "error", Data: "unknown op " + req.Op})
			continue
		}

		accepted, rejected := c.apply(req)
		c.hub.log.Debug("ws_"+req.Op, zap.String("client", c.id), zap.Strings("channels", accepted))
		c.reply(WSMessage{Type: req.Op + "d", Data: map[string][]string{"channels": accepted, "rejected": rejected}})
	}
}

// writePump sends queued messages, one frame each, and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection and registers the client with the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws_upgrade_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            uuid.NewString(),
		subscriptions: make(map[string]bool),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
