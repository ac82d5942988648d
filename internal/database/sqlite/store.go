// Package sqlite stores the share ledger in a local SQLite file, for miners
// that want a history without running a database server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure Go SQLite driver for database/sql
	_ "modernc.org/sqlite"

	"github.com/bardlex/powminer/internal/database/ledger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS shares (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker       TEXT NOT NULL,
		token_id     TEXT NOT NULL,
		location     TEXT NOT NULL,
		challenge    TEXT NOT NULL,
		nonce        TEXT NOT NULL,
		hash         TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		status_code  INTEGER NOT NULL DEFAULT 0,
		reason       TEXT NOT NULL DEFAULT '',
		found_at     INTEGER NOT NULL,
		submitted_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS shares_ticker_submitted_idx ON shares (ticker, submitted_at DESC)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker       TEXT NOT NULL,
		token_id     TEXT NOT NULL,
		challenge    TEXT NOT NULL,
		difficulty   INTEGER NOT NULL,
		location     TEXT NOT NULL,
		installed_at INTEGER NOT NULL
	)`,
}

// Store implements ledger.Store on SQLite. Times are stored as unix
// nanoseconds.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, os.ErrInvalid
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One writer avoids SQLITE_BUSY between the dispatcher and readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health checks the database handle.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateShare appends a share record.
func (s *Store) CreateShare(ctx context.Context, share *ledger.Share) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (ticker, token_id, location, challenge, nonce, hash,
		                    outcome, status_code, reason, found_at, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		share.Ticker, share.TokenID, share.Location, share.Challenge, share.Nonce, share.Hash,
		share.Outcome, share.StatusCode, share.Reason,
		share.FoundAt.UnixNano(), share.SubmittedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		share.ID = id
	}
	return nil
}

// CreateJob appends a job record.
func (s *Store) CreateJob(ctx context.Context, job *ledger.Job) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (ticker, token_id, challenge, difficulty, location, installed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.Ticker, job.TokenID, job.Challenge, job.Difficulty, job.Location, job.InstalledAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		job.ID = id
	}
	return nil
}

// CountByOutcome returns the number of shares per outcome for ticker.
func (s *Store) CountByOutcome(ctx context.Context, ticker string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM shares WHERE ticker = ? GROUP BY outcome`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to count shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan share count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// RecentShares returns up to limit shares for ticker, newest first.
func (s *Store) RecentShares(ctx context.Context, ticker string, limit int) ([]*ledger.Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, token_id, location, challenge, nonce, hash,
		       outcome, status_code, reason, found_at, submitted_at
		FROM shares
		WHERE ticker = ?
		ORDER BY submitted_at DESC, id DESC
		LIMIT ?`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var shares []*ledger.Share
	for rows.Next() {
		sh := &ledger.Share{}
		var foundAt, submittedAt int64
		if err := rows.Scan(
			&sh.ID, &sh.Ticker, &sh.TokenID, &sh.Location, &sh.Challenge, &sh.Nonce, &sh.Hash,
			&sh.Outcome, &sh.StatusCode, &sh.Reason, &foundAt, &submittedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		sh.FoundAt = time.Unix(0, foundAt)
		sh.SubmittedAt = time.Unix(0, submittedAt)
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}
