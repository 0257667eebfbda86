// internal/events/hub.go
package events

import (
	"context"
	"sync"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/domain/download"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// JobEvent is broadcast to every connected observer whenever a job changes
// state. The bot layer uses it to edit progress messages; the admin
// dashboard uses it as a live feed.
type JobEvent struct {
	JobID   string         `json:"job_id"`
	UserID  int64          `json:"user_id"`
	State   download.State `json:"state"`
	Reason  string         `json:"reason,omitempty"`
	Bytes   int64          `json:"bytes,omitempty"`
	At      time.Time      `json:"at"`
}

// Hub fans job events out to websocket observers. Slow or dead clients are
// dropped rather than allowed to block the broadcast loop.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]bool
	broadcast chan JobEvent
	logger    *zap.Logger
}

type client struct {
	conn *websocket.Conn
	send chan JobEvent
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:   make(map[*client]bool),
		broadcast: make(chan JobEvent, 256),
		logger:    logger,
	}
}

// Publish enqueues an event for broadcast. Never blocks: if the hub is
// saturated the event is dropped, the stores remain the source of truth.
func (h *Hub) Publish(ev JobEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("event hub saturated, dropping event", zap.String("job_id", ev.JobID))
	}
}

// Run pumps broadcast events to clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
					// Client can't keep up; let its writer exit.
					go h.drop(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Attach registers a websocket connection and starts its writer. The caller
// keeps ownership of read-side errors (the reader only detects close).
func (h *Hub) Attach(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan JobEvent, 32)}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer h.drop(c)
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
}
