package job

import (
	"encoding/json"
	"time"
)

// Job is a work request that ended with an ERROR reply. Payload holds the
// encoded request so a retry can republish it to Topic.
type Job struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id"`
	Topic     string          `json:"topic"`
	Listener  string          `json:"listener"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
