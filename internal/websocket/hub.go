// Package websocket is the notification bus: it fans session events and
// quality alerts out to the clients subscribed to each session.
package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/caremesh/telecare/internal/models"
)

// Client represents one subscribed WebSocket connection.
type Client struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      models.ParticipantRole
	Conn      *websocket.Conn
	Send      chan Envelope
	Done      chan struct{}

	closeOnce sync.Once
}

// Close shuts the client down. Safe to call more than once. Send stays
// open so a concurrent Publish never writes to a closed channel; the
// write pump exits via Done.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Done)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// IsConnected checks if the client is still subscribed.
func (c *Client) IsConnected() bool {
	select {
	case <-c.Done:
		return false
	default:
		return true
	}
}

// TrySend queues an envelope without blocking.
func (c *Client) TrySend(envelope Envelope) error {
	select {
	case c.Send <- envelope:
		return nil
	default:
		return ErrClientBufferFull
	}
}

// room holds the clients subscribed to one session.
type room struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client // key: client ID
}

// Hub manages all subscribed connections, keyed by session ID.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]*room
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[uuid.UUID]*room),
		logger: logger.With().Str("component", "notification_hub").Logger(),
	}
}

// Subscribe adds a client to its session's room. If the same user already
// has a connection for this session, the old one is closed first.
func (h *Hub) Subscribe(client *Client) {
	h.mu.Lock()
	r, exists := h.rooms[client.SessionID]
	if !exists {
		r = &room{clients: make(map[uuid.UUID]*Client)}
		h.rooms[client.SessionID] = r
	}
	h.mu.Unlock()

	r.mu.Lock()
	for id, existing := range r.clients {
		if existing.UserID == client.UserID && existing.ID != client.ID {
			h.logger.Debug().
				Str("session_id", client.SessionID.String()).
				Str("user_id", client.UserID.String()).
				Msg("closing duplicate subscription")
			delete(r.clients, id)
			existing.Close()
		}
	}
	r.clients[client.ID] = client
	r.mu.Unlock()
}

// Unsubscribe removes a client; the room is dropped once empty.
func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	r, exists := h.rooms[client.SessionID]
	h.mu.Unlock()
	if !exists {
		return
	}

	r.mu.Lock()
	delete(r.clients, client.ID)
	empty := len(r.clients) == 0
	r.mu.Unlock()

	if empty {
		h.mu.Lock()
		r.mu.Lock()
		if len(r.clients) == 0 {
			delete(h.rooms, client.SessionID)
		}
		r.mu.Unlock()
		h.mu.Unlock()
	}
}

// Publish broadcasts an event to every client subscribed to the session.
// Best-effort: clients with a full send buffer are skipped.
func (h *Hub) Publish(sessionID uuid.UUID, eventType string, payload any) {
	h.mu.RLock()
	r, exists := h.rooms[sessionID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	envelope := Envelope{Type: eventType, Payload: payload}

	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		if !c.IsConnected() {
			continue
		}
		if err := c.TrySend(envelope); err != nil {
			h.logger.Debug().
				Str("session_id", sessionID.String()).
				Str("user_id", c.UserID.String()).
				Str("event", eventType).
				Msg("dropping event for slow client")
		}
	}
}

// CloseSession closes every client in the session's room and drops it.
func (h *Hub) CloseSession(sessionID uuid.UUID) {
	h.mu.Lock()
	r, exists := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	h.mu.Unlock()
	if !exists {
		return
	}

	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[uuid.UUID]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// SubscriberCount reports the number of clients in a session's room.
func (h *Hub) SubscriberCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	r, exists := h.rooms[sessionID]
	h.mu.RUnlock()
	if !exists {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
