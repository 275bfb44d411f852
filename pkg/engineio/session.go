package engineio

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionDescriptor is the result of the engine.io handshake: the
// server-assigned session ID plus the server-dictated timing and
// upgrade policy for the rest of the connection's lifetime. It is
// created once per connection and never mutated afterwards.
type SessionDescriptor struct {
	SID          string
	PingInterval time.Duration
	PingTimeout  time.Duration
	Upgrades     []string
}

// handshakePayload mirrors the JSON body of the engine.io "open" packet.
// Field names follow the wire protocol (camelCase), not Go convention.
type handshakePayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
}

// parseSessionDescriptor decodes the JSON string payload of an "open"
// packet into a [SessionDescriptor]. Unknown JSON fields are ignored.
func parseSessionDescriptor(payload string) (SessionDescriptor, error) {
	var hs handshakePayload
	if err := json.Unmarshal([]byte(payload), &hs); err != nil {
		return SessionDescriptor{}, fmt.Errorf("%w: malformed handshake payload: %w", ErrInvalidData, err)
	}
	if hs.SID == "" {
		return SessionDescriptor{}, fmt.Errorf("%w: handshake payload missing sid", ErrInvalidData)
	}

	return SessionDescriptor{
		SID:          hs.SID,
		PingInterval: time.Duration(hs.PingInterval) * time.Millisecond,
		PingTimeout:  time.Duration(hs.PingTimeout) * time.Millisecond,
		Upgrades:     hs.Upgrades,
	}, nil
}

// supportsWebSocketUpgrade reports whether the server advertised
// "websocket" among the transports it is willing to upgrade to.
func (s SessionDescriptor) supportsWebSocketUpgrade() bool {
	for _, u := range s.Upgrades {
		if u == "websocket" {
			return true
		}
	}
	return false
}
