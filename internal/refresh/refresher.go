// Package refresh keeps the work state current. Every refresh pass, whatever
// triggered it, runs on a single consumer goroutine so job fetches never
// overlap.
package refresh

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/bardlex/powminer/internal/validation"
	"github.com/bardlex/powminer/internal/work"
	"github.com/bardlex/powminer/pkg/circuit"
	"github.com/bardlex/powminer/pkg/log"
)

// Fetcher is the part of the job source the refresher needs.
type Fetcher interface {
	FetchJob(ctx context.Context, ticker string) (*work.Job, error)
}

// JobListener is told about every installed job.
type JobListener interface {
	JobChanged(job work.Job)
}

// Config controls refresh pacing.
type Config struct {
	Ticker         string
	Interval       time.Duration
	RequestTimeout time.Duration
	// RateLimit caps refresh passes per second; Burst is fixed at one.
	RateLimit float64
}

// DefaultConfig returns one pass per second, at most four per second overall.
func DefaultConfig(ticker string) Config {
	return Config{
		Ticker:         ticker,
		Interval:       time.Second,
		RequestTimeout: 10 * time.Second,
		RateLimit:      4,
	}
}

// Refresher fetches jobs and installs changed ones into a work.State.
type Refresher struct {
	cfg      Config
	source   Fetcher
	state    *work.State
	limiter  *rate.Limiter
	trigger  chan struct{}
	listener JobListener
	logger   *log.Logger
}

// New creates a refresher writing into state.
func New(cfg Config, source Fetcher, state *work.State, logger *log.Logger) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Refresher{
		cfg:     cfg,
		source:  source,
		state:   state,
		limiter: rate.NewLimiter(limit, 1),
		trigger: make(chan struct{}, 1),
		logger:  logger.WithComponent("refresher").WithTicker(cfg.Ticker),
	}
}

// SetListener registers l for job changes. Call before Run.
func (r *Refresher) SetListener(l JobListener) {
	r.listener = l
}

// Trigger requests a refresh pass. It never blocks; requests arriving while
// one is already pending collapse into it.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Refresh fetches the current job once. It returns the new job and true when
// the challenge changed and the state was replaced. Fetch failures are logged
// and leave the held job in place.
func (r *Refresher) Refresh(ctx context.Context) (*work.Job, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	job, err := r.source.FetchJob(fetchCtx, r.cfg.Ticker)
	if err != nil {
		// The breaker logs its own transition to open.
		if circuit.IsOpen(err) {
			r.logger.Debug("job source breaker open, keeping held job")
		} else {
			r.logger.WithError(err).Warn("failed to fetch job")
		}
		return nil, false
	}
	r.logger.LogDuration("refresh", time.Since(start).Nanoseconds())

	if !r.state.ReplaceIfChanged(*job) {
		return nil, false
	}

	r.announce(*job)
	return job, true
}

// announce logs an installed job and notifies the listener.
func (r *Refresher) announce(job work.Job) {
	r.logger.LogJobChange(job.Ticker, job.ChallengePrefix(64), job.Difficulty, job.Location)
	if !job.Satisfiable() {
		r.logger.Warn("job difficulty can never be met",
			"difficulty", job.Difficulty,
			"max_difficulty", validation.MaxDifficulty(work.HashSize),
		)
	}
	if r.listener != nil {
		r.listener.JobChanged(job)
	}
}

// Announce reports the job the state was created with.
func (r *Refresher) Announce() {
	r.announce(r.state.Current())
}

// Run consumes ticker and trigger events until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("refresher started",
		"interval", r.cfg.Interval,
		"rate_limit", r.cfg.RateLimit,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresher stopped")
			return
		case <-ticker.C:
		case <-r.trigger:
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		r.Refresh(ctx)
	}
}
