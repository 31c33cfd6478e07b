package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/caremesh/telecare/internal/middlewares"
	ws "github.com/caremesh/telecare/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now, restrict in production
	},
}

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// WebSocketHandler upgrades subscriber connections and attaches them to
// the notification hub.
type WebSocketHandler struct {
	hub    *ws.Hub
	logger zerolog.Logger
}

func NewWebSocketHandler(hub *ws.Hub, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger.With().Str("component", "ws_handler").Logger(),
	}
}

// Subscribe is the WebSocket endpoint handler.
// MUST be protected by WebSocketAuthMiddleware.
func (h *WebSocketHandler) Subscribe(c *gin.Context) {
	claims, err := middlewares.GetSessionClaims(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal server error",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &ws.Client{
		ID:        uuid.New(),
		SessionID: claims.SessionID,
		UserID:    claims.UserID,
		Role:      claims.Role,
		Conn:      conn,
		Send:      make(chan ws.Envelope, 256),
		Done:      make(chan struct{}),
	}

	h.hub.Subscribe(client)

	h.logger.Debug().
		Str("session_id", claims.SessionID.String()).
		Str("user_id", claims.UserID.String()).
		Msg("client subscribed")

	go h.readPump(client)
	go h.writePump(client)
}

// readPump drains inbound frames. Clients are listeners; only keepalive
// pings are expected upstream.
func (h *WebSocketHandler) readPump(client *ws.Client) {
	defer func() {
		h.hub.Unsubscribe(client)
		client.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		var msg ws.InboundMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).
					Str("user_id", client.UserID.String()).
					Msg("unexpected close")
			}
			return
		}

		switch msg.Type {
		case "ping":
			client.TrySend(ws.Envelope{Type: "pong", Payload: map[string]any{}})
		default:
			h.logger.Debug().
				Str("type", msg.Type).
				Msg("ignoring unknown inbound message type")
		}
	}
}

// writePump pushes hub envelopes and protocol pings to the client.
func (h *WebSocketHandler) writePump(client *ws.Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case envelope, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(envelope); err != nil {
				h.logger.Debug().Err(err).
					Str("user_id", client.UserID.String()).
					Msg("write failed")
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.Done:
			return
		}
	}
}
