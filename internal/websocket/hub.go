// Package websocket carries bridge events between passd and the front-desk
// consoles: the server side fans events out to connected desks, and Follow
// replays them onto a desk's local bus.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/clubdesk/internal/bridge"
)

// Message is the frame written to every client.
type Message struct {
	Type  string       `json:"type"`
	Event bridge.Event `json:"event"`
}

// NewMessage wraps a bridge event under the day-pass event name.
func NewMessage(ev bridge.Event) Message {
	return Message{Type: bridge.EventName, Event: ev}
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	dropped int
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends an event to all connected clients. A client whose buffer is
// full misses the event and catches up on its next full refresh.
func (h *Hub) Broadcast(ev bridge.Event) {
	data, err := json.Marshal(NewMessage(ev))
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped++
			h.logger.Warn("client buffer full, event dropped", "action", ev.Action, "pass_id", ev.PassID)
		}
	}
}

// Relay forwards every event published on bus to the hub's clients until the
// returned function is called.
func (h *Hub) Relay(bus *bridge.Bus) (stop func()) {
	return bus.Subscribe(h.Broadcast)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped for slow clients.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
