package transport

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sakif/reelhouse/internal/metrics"
)

// RoomKey names the room of a conversation.
func RoomKey(conversationID string) string {
	return "conv:" + conversationID
}

// Hub tracks connected clients and their room memberships.
//
// LOCKING:
// One RWMutex guards both maps. Sends into a client's buffered channel
// happen under the read lock and closing that channel happens under the
// write lock, so a send can never race a close.
//
// SLOW CLIENTS:
// Sends never block. A client whose buffer is full is collected during the
// broadcast and unregistered afterwards, which closes its channel and
// makes its write pump hang up.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a freshly connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.SocketConnections.Inc()
}

// Unregister removes c from every room and closes its send channel.
// Calling it more than once is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(room, c)
	}
	close(c.send)
	h.mu.Unlock()
	metrics.SocketConnections.Dec()
}

// Join subscribes c to room. Unknown (already unregistered) clients are ignored.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, c)
}

func (h *Hub) leaveLocked(room string, c *Client) {
	delete(c.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom reports whether c is subscribed to room.
func (h *Hub) InRoom(room string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client in the conversation's room. It
// implements service.Broadcaster.
func (h *Hub) Broadcast(conversationID, event string, data any) {
	h.broadcast(RoomKey(conversationID), event, data, nil)
}

// broadcast sends to every member of room except skip (which may be nil).
func (h *Hub) broadcast(room, event string, data any, skip *Client) {
	frame, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		h.logger.Error("socket: encoding broadcast",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.rooms[room] {
		if c == skip {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.drop(c)
	}
}

// sendTo queues a frame for a single client. It reports false when the
// client is gone or was dropped for being slow.
func (h *Hub) sendTo(c *Client, event string, data any) bool {
	frame, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		h.logger.Error("socket: encoding frame",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return false
	}

	h.mu.RLock()
	_, ok := h.clients[c]
	full := false
	if ok {
		select {
		case c.send <- frame:
		default:
			full = true
		}
	}
	h.mu.RUnlock()

	if full {
		h.drop(c)
		return false
	}
	return ok
}

func (h *Hub) drop(c *Client) {
	h.logger.Warn("socket: dropping slow client", slog.String("userID", c.userID))
	metrics.SocketDropped.Inc()
	h.Unregister(c)
}

// Close disconnects every client. Used on shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Unregister(c)
	}
}
