package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bardlex/powminer/internal/database/ledger"
)

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	*Client
	Shares *ShareRepository
	Jobs   *JobRepository
}

// NewStore opens the database and builds its repositories.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	c, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		Client: c,
		Shares: NewShareRepository(c.DB()),
		Jobs:   NewJobRepository(c.DB()),
	}, nil
}

// CreateShare implements ledger.Store.
func (s *Store) CreateShare(ctx context.Context, share *ledger.Share) error {
	return s.Shares.CreateShare(ctx, share)
}

// CreateJob implements ledger.Store.
func (s *Store) CreateJob(ctx context.Context, job *ledger.Job) error {
	return s.Jobs.CreateJob(ctx, job)
}

// CountByOutcome implements ledger.Store.
func (s *Store) CountByOutcome(ctx context.Context, ticker string) (map[string]int64, error) {
	return s.Shares.CountByOutcome(ctx, ticker)
}

// RecentShares implements ledger.Store.
func (s *Store) RecentShares(ctx context.Context, ticker string, limit int) ([]*ledger.Share, error) {
	return s.Shares.RecentShares(ctx, ticker, limit)
}

// ShareRepository handles share-related database operations
type ShareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new share repository
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// CreateShare creates a new share record
func (r *ShareRepository) CreateShare(ctx context.Context, share *ledger.Share) error {
	query := `
		INSERT INTO shares (ticker, token_id, location, challenge, nonce, hash,
		                    outcome, status_code, reason, found_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		share.Ticker, share.TokenID, share.Location, share.Challenge, share.Nonce, share.Hash,
		share.Outcome, share.StatusCode, share.Reason, share.FoundAt, share.SubmittedAt,
	).Scan(&share.ID)

	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}

	return nil
}

// CountByOutcome returns the number of shares per outcome for ticker
func (r *ShareRepository) CountByOutcome(ctx context.Context, ticker string) (map[string]int64, error) {
	query := `SELECT outcome, COUNT(*) FROM shares WHERE ticker = $1 GROUP BY outcome`

	rows, err := r.db.QueryContext(ctx, query, ticker)
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

// RecentShares retrieves the latest shares for ticker
func (r *ShareRepository) RecentShares(ctx context.Context, ticker string, limit int) ([]*ledger.Share, error) {
	query := `
		SELECT id, ticker, token_id, location, challenge, nonce, hash,
		       outcome, status_code, reason, found_at, submitted_at
		FROM shares
		WHERE ticker = $1
		ORDER BY submitted_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var shares []*ledger.Share
	for rows.Next() {
		s := &ledger.Share{}
		err := rows.Scan(
			&s.ID, &s.Ticker, &s.TokenID, &s.Location, &s.Challenge, &s.Nonce, &s.Hash,
			&s.Outcome, &s.StatusCode, &s.Reason, &s.FoundAt, &s.SubmittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, s)
	}

	return shares, rows.Err()
}

// JobRepository handles job history operations
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob records an installed job
func (r *JobRepository) CreateJob(ctx context.Context, job *ledger.Job) error {
	query := `
		INSERT INTO jobs (ticker, token_id, challenge, difficulty, location, installed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		job.Ticker, job.TokenID, job.Challenge, job.Difficulty, job.Location, job.InstalledAt,
	).Scan(&job.ID)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}
