package telemetry

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/bardlex/powminer/internal/miner"
	"github.com/bardlex/powminer/internal/submit"
	"github.com/bardlex/powminer/internal/work"
	"github.com/bardlex/powminer/pkg/log"
)

// DefaultQueueSize bounds pending events.
const DefaultQueueSize = 256

type event struct {
	kind    string
	deliver func(ctx context.Context, s Sink) error
}

// Dispatcher queues events and delivers them to every sink on one worker.
// When the queue is full new events are dropped.
type Dispatcher struct {
	sinks   []Sink
	queue   chan event
	timeout time.Duration
	logger  *log.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}

	mu      sync.Mutex
	dropped uint64
}

// NewDispatcher creates a dispatcher over sinks.
func NewDispatcher(queueSize int, timeout time.Duration, logger *log.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan event, queueSize),
		timeout: timeout,
		logger:  logger.WithComponent("telemetry"),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.worker(ctx)
	d.logger.Info("telemetry dispatcher started", "sinks", len(d.sinks), "queue_size", cap(d.queue))
}

// Stop drains what is already queued and waits for the worker, giving up
// when ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stop) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) enqueue(ev event) {
	if len(d.sinks) == 0 {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.mu.Lock()
		d.dropped++
		n := d.dropped
		d.mu.Unlock()
		d.logger.Warn("telemetry queue full, dropping event", "kind", ev.kind, "dropped_total", n)
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	defer d.logger.Info("telemetry dispatcher stopped")

	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		case <-d.stop:
			d.drain(ctx)
			return
		case <-ctx.Done():
			d.drain(context.Background())
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev event) {
	for _, s := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := ev.deliver(sinkCtx, s)
		cancel()
		if err != nil {
			d.logger.WithError(err).Warn("telemetry sink failed", "sink", sinkName(s), "kind", ev.kind)
		}
	}
}

func sinkName(s Sink) string {
	if n, ok := s.(NamedSink); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// JobChanged queues a job event.
func (d *Dispatcher) JobChanged(job work.Job) {
	ev := JobEvent{
		Ticker:     job.Ticker,
		TokenID:    job.ID,
		Challenge:  job.ChallengeHex,
		Difficulty: job.Difficulty,
		Location:   job.Location,
		Timestamp:  time.Now(),
	}
	d.enqueue(event{kind: "job", deliver: func(ctx context.Context, s Sink) error {
		return s.JobChanged(ctx, ev)
	}})
}

// RoundCompleted queues a round event.
func (d *Dispatcher) RoundCompleted(res *miner.RoundResult) {
	ev := RoundEvent{
		Ticker:      res.Job.Ticker,
		TokenID:     res.Job.ID,
		Hashes:      res.Hashes,
		Solutions:   len(res.Solutions),
		ElapsedMs:   res.Elapsed.Milliseconds(),
		HashRate:    res.HashRate(),
		BestNibbles: res.BestNibbles,
		Timestamp:   time.Now(),
	}
	d.enqueue(event{kind: "round", deliver: func(ctx context.Context, s Sink) error {
		return s.RoundCompleted(ctx, ev)
	}})
}

// ShareSubmitted queues a share event.
func (d *Dispatcher) ShareSubmitted(sol work.Solution, res submit.Result) {
	ev := ShareEvent{
		Ticker:      sol.Ticker,
		TokenID:     sol.TokenID,
		Location:    sol.Location,
		Challenge:   hex.EncodeToString(sol.Challenge),
		Nonce:       sol.NonceHex(),
		Hash:        sol.HashHex(),
		Outcome:     res.Outcome.String(),
		StatusCode:  res.Status,
		Reason:      res.Reason,
		FoundAt:     sol.FoundAt,
		SubmittedAt: time.Now(),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	d.enqueue(event{kind: "share", deliver: func(ctx context.Context, s Sink) error {
		return s.ShareSubmitted(ctx, ev)
	}})
}

// StatusUpdated queues a status event.
func (d *Dispatcher) StatusUpdated(ev StatusEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	d.enqueue(event{kind: "status", deliver: func(ctx context.Context, s Sink) error {
		return s.StatusUpdated(ctx, ev)
	}})
}
