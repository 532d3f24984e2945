package live

import (
	"encoding/json"
	"time"
)

const (
	KindConnection = "connection"
	KindSpeed      = "speed"

	welcomeMessage = "Connected to Comsy WebSocket server"
)

// Inbound is what clients send.
type Inbound struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is what the hub sends. Message is set on the welcome envelope
// only; Payload on relayed envelopes only.
type Outbound struct {
	Kind      string          `json:"kind"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
