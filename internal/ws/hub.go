package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/beacon/internal/logging"
	"github.com/darkden-lab/beacon/internal/metrics"
	"github.com/darkden-lab/beacon/internal/wire"
)

// Realtime event names.
const (
	EventEmit        = "emit"
	EventReconnect   = "reconnect"
	EventBroadcast   = "broadcast"
	EventEmitPrivate = "emit_private"
)

// Frame is the wire shape of every realtime message. Outbound data is
// always a JSON string; inbound data may also be a raw object.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

func encodeFrame(event string, msg interface{}) ([]byte, error) {
	data, err := wire.Encode(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(outboundFrame{Event: event, Data: data})
}

// Hub tracks connected clients and their rooms and delivers frames to them.
// It is safe for concurrent use. A client id doubles as a private room, so
// Emit accepts socket ids and room names alike.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	log     zerolog.Logger
}

// NewHub allocates and initialises a Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		log:     logging.With("ws"),
	}
}

// Run blocks until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	h.log.Info().Msg("hub started")
	<-ctx.Done()
	n := h.DisconnectAllSockets()
	h.log.Info().Int("clients", n).Msg("hub stopped")
	return ctx.Err()
}

// Register adds c to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketConnections.Set(float64(n))
	h.log.Debug().Str("subscription_id", c.ID).Str("client_id", c.ClientID).Msg("client registered")
}

// Unregister removes c from the hub and from every room it joined, and
// closes its send channel. It reports whether c was registered.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c.ID)
	for room, members := range h.rooms {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	c.closeLocked()
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketConnections.Set(float64(n))
	h.log.Debug().Str("subscription_id", c.ID).Msg("client unregistered")
	return true
}

// Join adds c to room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
}

// Leave removes c from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom reports whether the client with id is a member of room.
func (h *Hub) InRoom(room, id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][id]
	return ok
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers msg to every client except the one with id except.
func (h *Hub) Broadcast(msg interface{}, except string) error {
	frame, err := encodeFrame(EventEmit, msg)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for id, c := range h.clients {
		if id == except {
			continue
		}
		if h.deliverLocked(c, frame) {
			sent++
		}
	}
	metrics.WebSocketMessagesSent.WithLabelValues("broadcast").Add(float64(sent))
	return nil
}

// Emit delivers msg to the sockets and rooms named by target. An empty
// target is logged and dropped rather than broadcast.
func (h *Hub) Emit(msg interface{}, target wire.Target) error {
	if target.Empty() {
		h.log.Warn().Msg("emit without socketIdsOrRooms dropped")
		return nil
	}
	frame, err := encodeFrame(EventEmit, msg)
	if err != nil {
		return fmt.Errorf("emit: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	recipients := make(map[string]*Client)
	for _, id := range target.IDs() {
		if c, ok := h.clients[id]; ok {
			recipients[id] = c
		}
		for cid, c := range h.rooms[id] {
			recipients[cid] = c
		}
	}
	if len(recipients) == 0 {
		h.log.Debug().Str("target", target.String()).Msg("emit matched no clients")
		return nil
	}

	sent := 0
	for _, c := range recipients {
		if h.deliverLocked(c, frame) {
			sent++
		}
	}
	metrics.WebSocketMessagesSent.WithLabelValues("emit").Add(float64(sent))
	return nil
}

// deliverLocked queues frame on c without blocking. Slow clients drop the
// frame. Must be called with h.mu held.
func (h *Hub) deliverLocked(c *Client, frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.WebSocketFramesDropped.Inc()
		h.log.Warn().Str("subscription_id", c.ID).Msg("slow client, frame dropped")
		return false
	}
}

// DisconnectAllSockets closes every client connection. Clients stay
// registered until their read pump observes the close and runs the
// disconnect path. It returns the number of clients closed.
func (h *Hub) DisconnectAllSockets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.clients {
		if !c.closed {
			c.closeLocked()
			n++
		}
	}
	if n > 0 {
		h.log.Warn().Int("clients", n).Msg("disconnected all sockets")
	}
	return n
}
