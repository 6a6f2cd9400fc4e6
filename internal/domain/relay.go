package domain

import (
	"encoding/json"
	"time"
)

// RelayEvent carries one fan-out decision between server nodes. The origin
// node applies the delivery to its local connections and publishes the
// envelope; other nodes replay it against their own connection hubs.
// Connection-level exclusions are node-local and never cross the wire.
type RelayEvent struct {
	NodeID    string          `json:"node_id"`
	Channels  []string        `json:"channels"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// PresenceStatusMessage announces an admin presence transition to other
// nodes so their Redis-backed views stay warm.
type PresenceStatusMessage struct {
	NodeID    string    `json:"node_id"`
	AdminID   string    `json:"admin_id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}
