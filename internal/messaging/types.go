package messaging

import (
	"time"

	"github.com/bytedance/sonic"
)

// Event types carried in Envelope.Type
const (
	EventJob    = "job"
	EventShare  = "share"
	EventRound  = "round"
	EventStatus = "status"
)

// Envelope wraps every published event
type Envelope struct {
	Type      string    `json:"type"`
	Miner     string    `json:"miner"`
	Host      string    `json:"host,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Encode renders the envelope as JSON
func (e *Envelope) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}
