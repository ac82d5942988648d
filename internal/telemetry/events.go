// Package telemetry fans mining events out to optional backends (share
// ledger, status cache, metrics, event stream). Sinks run on a single
// background worker so backend latency never reaches the mining loop.
package telemetry

import (
	"context"
	"time"
)

// JobEvent is emitted when a new job is installed.
type JobEvent struct {
	Ticker     string    `json:"ticker"`
	TokenID    string    `json:"token_id"`
	Challenge  string    `json:"challenge"`
	Difficulty int       `json:"difficulty"`
	Location   string    `json:"location"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoundEvent is emitted after every search round.
type RoundEvent struct {
	Ticker      string    `json:"ticker"`
	TokenID     string    `json:"token_id"`
	Hashes      uint64    `json:"hashes"`
	Solutions   int       `json:"solutions"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	HashRate    float64   `json:"hash_rate"`
	BestNibbles int       `json:"best_nibbles"`
	Timestamp   time.Time `json:"timestamp"`
}

// ShareEvent is emitted after every submission attempt.
type ShareEvent struct {
	Ticker      string    `json:"ticker"`
	TokenID     string    `json:"token_id"`
	Location    string    `json:"location"`
	Challenge   string    `json:"challenge"`
	Nonce       string    `json:"nonce"`
	Hash        string    `json:"hash"`
	Outcome     string    `json:"outcome"`
	StatusCode  int       `json:"status_code"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
	FoundAt     time.Time `json:"found_at"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// StatusEvent is the periodic miner status.
type StatusEvent struct {
	Address         string        `json:"address"`
	Ticker          string        `json:"ticker"`
	TokenID         string        `json:"token_id"`
	Challenge       string        `json:"challenge"`
	Difficulty      int           `json:"difficulty"`
	Accepted        uint64        `json:"accepted"`
	Rejected        uint64        `json:"rejected"`
	TransportFailed uint64        `json:"transport_failed"`
	Rounds          uint64        `json:"rounds"`
	Hashes          uint64        `json:"hashes"`
	HashRate        float64       `json:"hash_rate"`
	Uptime          time.Duration `json:"uptime_ns"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Sink receives telemetry events. Implementations may block on I/O; the
// dispatcher calls them from one goroutine.
type Sink interface {
	JobChanged(ctx context.Context, ev JobEvent) error
	RoundCompleted(ctx context.Context, ev RoundEvent) error
	ShareSubmitted(ctx context.Context, ev ShareEvent) error
	StatusUpdated(ctx context.Context, ev StatusEvent) error
}

// NamedSink is a Sink that reports a name for logs.
type NamedSink interface {
	Sink
	Name() string
}
