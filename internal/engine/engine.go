// Package engine runs the miner: it bootstraps the first job, keeps the work
// state fresh, mines round after round and reports status.
package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hako/durafmt"

	"github.com/bardlex/powminer/internal/jobsource"
	"github.com/bardlex/powminer/internal/miner"
	"github.com/bardlex/powminer/internal/refresh"
	"github.com/bardlex/powminer/internal/submit"
	"github.com/bardlex/powminer/internal/telemetry"
	"github.com/bardlex/powminer/internal/work"
	"github.com/bardlex/powminer/pkg/log"
)

// Events receives everything the engine observes. *telemetry.Dispatcher
// implements it; calls must not block.
type Events interface {
	JobChanged(job work.Job)
	RoundCompleted(res *miner.RoundResult)
	ShareSubmitted(sol work.Solution, res submit.Result)
	StatusUpdated(ev telemetry.StatusEvent)
}

// Notifier is an external source of refresh triggers, such as chain
// notifications.
type Notifier interface {
	Connect() error
	Listen(ctx context.Context) error
	Close() error
}

// Config controls the engine loops.
type Config struct {
	Ticker             string
	Address            string
	Miner              miner.Config
	RefreshInterval    time.Duration
	RefreshEveryRounds int
	RefreshRateLimit   float64
	RequestTimeout     time.Duration
	StatusInterval     time.Duration
}

// DefaultConfig returns the stock pacing for ticker.
func DefaultConfig(ticker, address string) Config {
	return Config{
		Ticker:             ticker,
		Address:            address,
		Miner:              miner.DefaultConfig(),
		RefreshInterval:    time.Second,
		RefreshEveryRounds: 12,
		RefreshRateLimit:   4,
		RequestTimeout:     10 * time.Second,
		StatusInterval:     30 * time.Second,
	}
}

// Engine owns the work state and every loop touching it.
type Engine struct {
	cfg      Config
	source   jobsource.Source
	events   Events
	base     *log.Logger
	logger   *log.Logger
	miner    *miner.Miner
	stats    *submit.Stats
	override *jobsource.Override
	notifier Notifier

	// set by Start before any loop runs
	state     *work.State
	refresher *refresh.Refresher
	submitter *submit.Submitter

	lastRate atomic.Uint64 // float64 bits, hashes per second
	started  atomic.Bool
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates an engine mining against source. events may be nil.
func New(cfg Config, source jobsource.Source, events Events, logger *log.Logger) *Engine {
	if cfg.RefreshEveryRounds <= 0 {
		cfg.RefreshEveryRounds = 12
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 30 * time.Second
	}
	if events == nil {
		events = nopEvents{}
	}

	return &Engine{
		cfg:     cfg,
		source:  source,
		events:  events,
		base:    logger,
		logger:  logger.WithComponent("engine").WithTicker(cfg.Ticker),
		miner:   miner.New(cfg.Miner, logger),
		stats:   submit.NewStats(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// SetOverride watches o and refreshes whenever the file changes. Call before Start.
func (e *Engine) SetOverride(o *jobsource.Override) {
	e.override = o
}

// SetNotifier listens on n for refresh triggers. Call before Start.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Stats returns the submission counters.
func (e *Engine) Stats() *submit.Stats {
	return e.stats
}

// Trigger requests a job refresh. Before Start it does nothing.
func (e *Engine) Trigger() {
	if e.refresher != nil {
		e.refresher.Trigger()
	}
}

// Start fetches the first job and mines until ctx is cancelled or Shutdown
// is called. It returns an error only when no first job could be obtained.
func (e *Engine) Start(ctx context.Context) error {
	e.started.Store(true)
	defer close(e.stopped)

	e.logger.Info("engine starting",
		"address", e.cfg.Address,
		"workers", e.miner.Workers(),
		"batch_size", e.miner.BatchSize(),
	)

	job, err := jobsource.Bootstrap(ctx, e.source, e.cfg.Ticker, e.base)
	if err != nil {
		e.logger.WithError(err).Error("failed to fetch initial job")
		return err
	}

	e.state = work.NewState(*job)
	e.refresher = refresh.New(refresh.Config{
		Ticker:         e.cfg.Ticker,
		Interval:       e.cfg.RefreshInterval,
		RequestTimeout: e.cfg.RequestTimeout,
		RateLimit:      e.cfg.RefreshRateLimit,
	}, e.source, e.state, e.base)
	e.refresher.SetListener(e.events)
	e.submitter = submit.NewSubmitter(e.source, e.stats, e.refresher, e.cfg.RequestTimeout, e.base)
	e.submitter.SetListener(e.events)
	e.refresher.Announce()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.done:
			cancel()
		case <-runCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	e.spawn(&wg, func() { e.refresher.Run(runCtx) })
	e.spawn(&wg, func() { e.statusLoop(runCtx) })
	if e.override != nil {
		e.spawn(&wg, func() {
			if err := e.override.Watch(runCtx, e.Trigger); err != nil {
				e.logger.WithError(err).Error("job override watcher stopped")
			}
		})
	}
	if e.notifier != nil {
		e.spawn(&wg, func() { e.listen(runCtx) })
	}

	e.mine(runCtx)

	cancel()
	wg.Wait()
	e.reportStatus()
	snap := e.stats.Snapshot()
	e.logger.LogThroughput("mining", int64(snap.Hashes), snap.Uptime.Nanoseconds())
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) spawn(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

// Shutdown stops mining and waits for Start to return or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("shutting down engine")
	e.stopOnce.Do(func() { close(e.done) })

	if !e.started.Load() {
		return nil
	}

	select {
	case <-e.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mine runs rounds back to back. Each round takes one snapshot of the work
// state and never re-reads it.
func (e *Engine) mine(ctx context.Context) {
	for round := 1; ctx.Err() == nil; round++ {
		job := e.state.Current()
		res := e.miner.Round(ctx, job)
		if ctx.Err() != nil {
			return
		}

		e.stats.RecordRound(res.Hashes)
		e.lastRate.Store(math.Float64bits(res.HashRate()))
		e.logger.LogHashRate(res.Hashes, res.Elapsed.Nanoseconds(), len(res.Solutions))
		e.events.RoundCompleted(res)

		for i := range res.Solutions {
			e.submitter.Submit(ctx, &res.Solutions[i])
		}

		if round%e.cfg.RefreshEveryRounds == 0 {
			e.refresher.Trigger()
		}
	}
}

func (e *Engine) listen(ctx context.Context) {
	defer func() {
		if err := e.notifier.Close(); err != nil {
			e.logger.WithError(err).Debug("failed to close chain notifier")
		}
	}()

	if err := e.notifier.Connect(); err != nil {
		e.logger.WithError(err).Error("chain notifications unavailable")
		return
	}
	if err := e.notifier.Listen(ctx); err != nil {
		e.logger.WithError(err).Error("chain notifier stopped")
	}
}

func (e *Engine) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reportStatus()
		}
	}
}

// Status builds the current status line.
func (e *Engine) Status() telemetry.StatusEvent {
	snap := e.stats.Snapshot()
	ev := telemetry.StatusEvent{
		Address:         e.cfg.Address,
		Ticker:          e.cfg.Ticker,
		Accepted:        snap.Accepted,
		Rejected:        snap.Rejected,
		TransportFailed: snap.TransportFailed,
		Rounds:          snap.Rounds,
		Hashes:          snap.Hashes,
		HashRate:        math.Float64frombits(e.lastRate.Load()),
		Uptime:          snap.Uptime,
		Timestamp:       time.Now(),
	}
	if e.state != nil {
		job := e.state.Current()
		ev.TokenID = job.ID
		ev.Challenge = job.ChallengeHex
		ev.Difficulty = job.Difficulty
	}
	return ev
}

func (e *Engine) reportStatus() {
	ev := e.Status()

	var prefix string
	var version uint64
	if e.state != nil {
		prefix = e.state.Current().ChallengePrefix(8)
		version = e.state.Version()
	}

	e.logger.Info("status",
		"challenge", prefix,
		"job_version", version,
		"difficulty", ev.Difficulty,
		"accepted", ev.Accepted,
		"rejected", ev.Rejected,
		"transport_failed", ev.TransportFailed,
		"mhs", ev.HashRate/1e6,
		"uptime", durafmt.Parse(ev.Uptime).LimitFirstN(2).String(),
	)
	e.events.StatusUpdated(ev)
}

type nopEvents struct{}

func (nopEvents) JobChanged(work.Job)                         {}
func (nopEvents) RoundCompleted(*miner.RoundResult)           {}
func (nopEvents) ShareSubmitted(work.Solution, submit.Result) {}
func (nopEvents) StatusUpdated(telemetry.StatusEvent)         {}
