// Package ledger defines the append-only record of mining activity and the
// store contract the SQL backends implement.
package ledger

import (
	"context"
	"time"
)

// Share is one submission attempt.
type Share struct {
	ID          int64     `db:"id"`
	Ticker      string    `db:"ticker"`
	TokenID     string    `db:"token_id"`
	Location    string    `db:"location"`
	Challenge   string    `db:"challenge"`
	Nonce       string    `db:"nonce"`
	Hash        string    `db:"hash"`
	Outcome     string    `db:"outcome"`
	StatusCode  int       `db:"status_code"`
	Reason      string    `db:"reason"`
	FoundAt     time.Time `db:"found_at"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// Job is one installed job.
type Job struct {
	ID          int64     `db:"id"`
	Ticker      string    `db:"ticker"`
	TokenID     string    `db:"token_id"`
	Challenge   string    `db:"challenge"`
	Difficulty  int       `db:"difficulty"`
	Location    string    `db:"location"`
	InstalledAt time.Time `db:"installed_at"`
}

// Store persists ledger records.
type Store interface {
	CreateShare(ctx context.Context, share *Share) error
	CreateJob(ctx context.Context, job *Job) error
	CountByOutcome(ctx context.Context, ticker string) (map[string]int64, error)
	RecentShares(ctx context.Context, ticker string, limit int) ([]*Share, error)
	Health(ctx context.Context) error
	Close() error
}
