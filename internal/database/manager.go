// Package database records mining activity across the optional backends: the
// SQL share ledger, the Redis status cache and InfluxDB metrics. The Manager
// is a telemetry sink; each backend is skipped when not configured.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bardlex/powminer/internal/database/influx"
	"github.com/bardlex/powminer/internal/database/ledger"
	"github.com/bardlex/powminer/internal/database/postgres"
	"github.com/bardlex/powminer/internal/database/redis"
	"github.com/bardlex/powminer/internal/database/sqlite"
	"github.com/bardlex/powminer/internal/telemetry"
	"github.com/bardlex/powminer/pkg/circuit"
	"github.com/bardlex/powminer/pkg/errors"
	"github.com/bardlex/powminer/pkg/log"
	"github.com/bardlex/powminer/pkg/retry"
)

// Manager coordinates the ledger, status cache and metrics backends
type Manager struct {
	Ledger ledger.Store
	Redis  *redis.Client
	Influx *influx.Client

	address string

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	logger         *log.Logger
}

// Config holds configuration for all database systems. Empty fields disable
// the matching backend.
type Config struct {
	Address   string
	LedgerDSN string
	Redis     *redis.Config
	Influx    *influx.Config
}

// OpenLedger picks the ledger backend from dsn: postgres:// and
// postgresql:// URLs use PostgreSQL, "sqlite:" prefixed or bare paths use a
// local SQLite file.
func OpenLedger(ctx context.Context, dsn string) (ledger.Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.NewStore(ctx, postgres.DefaultConfig(dsn))
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(ctx, strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//"))
	default:
		return sqlite.Open(ctx, dsn)
	}
}

// NewManager connects every configured backend. A failure closes whatever was
// already opened.
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		address: cfg.Address,
		logger:  logger.WithComponent("database"),
	}

	if cfg.LedgerDSN != "" {
		store, err := OpenLedger(ctx, cfg.LedgerDSN)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "ledger_connection",
				"failed to open share ledger")
		}
		m.Ledger = store
	}

	if cfg.Redis != nil && cfg.Redis.URL != "" {
		rc, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			if closeErr := m.Close(); closeErr != nil {
				return nil, origErr.WithContext("cleanup_error", closeErr.Error())
			}
			return nil, origErr
		}
		m.Redis = rc
	}

	if cfg.Influx != nil && cfg.Influx.URL != "" {
		ic, err := influx.NewClient(ctx, cfg.Influx)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database")
			if closeErr := m.Close(); closeErr != nil {
				return nil, origErr.WithContext("cleanup_error", closeErr.Error())
			}
			return nil, origErr
		}
		m.Influx = ic
		go m.drainInfluxErrors(ctx)
	}

	cbConfig := &circuit.Config{
		Name:            "database",
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
		OnStateChange: func(name string, from, to circuit.State) {
			m.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	m.circuitBreaker = circuit.New(cbConfig)
	m.retryConfig = retry.TelemetryConfig()

	return m, nil
}

// Enabled reports whether any backend is configured.
func (m *Manager) Enabled() bool {
	return m.Ledger != nil || m.Redis != nil || m.Influx != nil
}

// Name implements telemetry.NamedSink.
func (m *Manager) Name() string { return "database" }

func (m *Manager) drainInfluxErrors(ctx context.Context) {
	errs := m.Influx.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			m.logger.WithError(err).Warn("InfluxDB write failed")
		}
	}
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if m.Ledger != nil {
		if err := m.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger close error: %w", err))
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all configured connections
func (m *Manager) Health(ctx context.Context) error {
	if m.Ledger != nil {
		if err := m.Ledger.Health(ctx); err != nil {
			return fmt.Errorf("ledger health check failed: %w", err)
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// ShareSubmitted records a submission in the ledger (critical, retried) and
// in metrics and the status cache (best effort).
func (m *Manager) ShareSubmitted(ctx context.Context, ev telemetry.ShareEvent) error {
	if m.Influx != nil {
		m.Influx.WriteShareMetric(ev.Ticker, ev.Outcome, ev.StatusCode, ev.SubmittedAt)
	}

	if m.Redis != nil {
		key := m.Redis.StatusKey(m.address, ev.Ticker) + ":shares:" + ev.Outcome
		if _, err := m.Redis.IncrementCounter(ctx, key, 24*time.Hour); err != nil {
			m.logger.WithError(err).Warn("failed to count share in Redis (non-critical)")
		}
	}

	if m.Ledger == nil {
		return nil
	}
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Ledger.CreateShare(ctx, shareRecord(ev)); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_share",
					"failed to store share in ledger").
					WithContext("token_id", ev.TokenID).
					WithContext("nonce", ev.Nonce)
			}
			return nil
		})
	})
}

// JobChanged records a job installation.
func (m *Manager) JobChanged(ctx context.Context, ev telemetry.JobEvent) error {
	if m.Influx != nil {
		m.Influx.WriteJobMetric(ev.Ticker, ev.TokenID, ev.Difficulty, ev.Timestamp)
	}

	if m.Redis != nil {
		if err := m.Redis.SetCurrentJob(ctx, ev.Ticker, ev); err != nil {
			m.logger.WithError(err).Warn("failed to cache current job (non-critical)")
		}
	}

	if m.Ledger == nil {
		return nil
	}
	err := m.circuitBreaker.Execute(ctx, func() error {
		return m.Ledger.CreateJob(ctx, &ledger.Job{
			Ticker:      ev.Ticker,
			TokenID:     ev.TokenID,
			Challenge:   ev.Challenge,
			Difficulty:  ev.Difficulty,
			Location:    ev.Location,
			InstalledAt: ev.Timestamp,
		})
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "record_job", "failed to store job in ledger").
			WithContext("challenge", ev.Challenge)
	}
	return nil
}

// RoundCompleted writes the round metric.
func (m *Manager) RoundCompleted(_ context.Context, ev telemetry.RoundEvent) error {
	if m.Influx != nil {
		m.Influx.WriteRoundMetric(ev.Ticker, ev.Hashes, ev.Solutions,
			time.Duration(ev.ElapsedMs)*time.Millisecond, ev.HashRate, ev.BestNibbles, ev.Timestamp)
	}
	return nil
}

// StatusUpdated refreshes the cached status hash.
func (m *Manager) StatusUpdated(ctx context.Context, ev telemetry.StatusEvent) error {
	if m.Redis == nil {
		return nil
	}
	err := m.Redis.SetStatus(ctx, ev.Address, ev.Ticker, redis.Status{
		Accepted:   ev.Accepted,
		Rejected:   ev.Rejected,
		HashRate:   ev.HashRate,
		Challenge:  ev.Challenge,
		Difficulty: ev.Difficulty,
		UpdatedAt:  ev.Timestamp,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "cache_status", "failed to cache miner status")
	}
	return nil
}

func shareRecord(ev telemetry.ShareEvent) *ledger.Share {
	return &ledger.Share{
		Ticker:      ev.Ticker,
		TokenID:     ev.TokenID,
		Location:    ev.Location,
		Challenge:   ev.Challenge,
		Nonce:       ev.Nonce,
		Hash:        ev.Hash,
		Outcome:     ev.Outcome,
		StatusCode:  ev.StatusCode,
		Reason:      ev.Reason,
		FoundAt:     ev.FoundAt,
		SubmittedAt: ev.SubmittedAt,
	}
}
