package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// sendBuffer is the per-client outbound queue depth. A client that cannot
// keep up is disconnected rather than blocking the broadcaster.
const sendBuffer = 64

// client is one connected UI peer. Writes go through the send channel so a
// single goroutine owns the connection's write side.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// close marks the client dead and closes the socket. Safe to call more than
// once.
func (c *client) close(status websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close(status, reason)
	})
}

// writeLoop drains the send channel onto the socket until the client dies.
func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// Hub fans broadcast messages out to all connected clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

// NewHub creates an empty hub. A nil logger falls back to slog.Default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", slog.Int("clients", n))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close(websocket.StatusNormalClosure, "")
	h.logger.Debug("client disconnected", slog.Int("clients", n))
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends msg to every connected client. Clients whose send queue is
// full are dropped.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("dropping unmarshalable broadcast", slog.String("type", msg.Type), slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow client", slog.String("type", msg.Type))
		c.close(websocket.StatusPolicyViolation, "send queue full")
	}
}

// sendTo queues msg for a single client, dropping it if the queue is full.
func (h *Hub) sendTo(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("dropping unmarshalable reply", slog.String("type", msg.Type), slog.String("error", err.Error()))
		return
	}
	select {
	case c.send <- data:
	default:
		h.unregister(c)
	}
}
