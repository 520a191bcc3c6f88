package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"tuya-go-home/internal/tuya"
)

// WSHub fans device and entity events out to WebSocket clients.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan tuya.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates a hub. Run must be started before clients connect.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan tuya.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop, closing every client.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("ws marshal", "type", event.Type, "err", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.drop(c)
					h.logger.Warn("ws client evicted (too slow)")
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client and closes its send channel. h.mu must be held.
func (h *WSHub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down. Safe to call more than once.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues an event for all clients, dropping it if the queue is full.
func (h *WSHub) Broadcast(event tuya.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("ws broadcast channel full, dropping event", "type", event.Type)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// Without configured origins the library enforces same-origin.
	opts := &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Warn("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	c := &wsClient{conn: conn, send: make(chan []byte, 64)}

	// The first message is the current siren list so clients need not poll.
	if snapshot, err := json.Marshal(tuya.Event{Type: "snapshot", Data: sirenViews(s.entities.List())}); err == nil {
		c.send <- snapshot
	}

	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go writePump(c)
	s.readPump(c)
}

func writePump(c *wsClient) {
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// readPump discards client messages and unregisters on disconnect.
func (s *Server) readPump(c *wsClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		select {
		case s.wsHub.unregister <- c:
		case <-s.wsHub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
