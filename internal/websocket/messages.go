package websocket

import "encoding/json"

// Envelope is the standard message format sent to subscribed clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// InboundMessage is what clients may send upstream (keepalive only; the
// engine pushes, clients listen).
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
