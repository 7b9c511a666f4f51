package protocol

import "time"

// Heartbeat is the liveness signal a component publishes on its heartbeat
// destination.
type Heartbeat struct {
	ComponentID string    `json:"component_id"`
	InstanceID  string    `json:"instance_id"`
	SentAt      time.Time `json:"sent_at"`
}

func (*Heartbeat) MessageType() string { return TypeHeartbeat }
