// Package miner runs the parallel nonce search. A round hashes a fixed batch of
// candidate nonces against one frozen job snapshot and returns every candidate
// whose double SHA-256 meets the job difficulty.
package miner

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"github.com/bardlex/powminer/internal/validation"
	"github.com/bardlex/powminer/internal/work"
	"github.com/bardlex/powminer/pkg/log"
)

const (
	// DefaultBatchSize is the number of candidates hashed per round.
	DefaultBatchSize = 8_000_000

	// MaxBatchSize is the largest batch whose slot indices all fit the
	// 4-byte nonce prefix.
	MaxBatchSize = math.MaxUint32

	// cancelCheckInterval is how many candidates a worker hashes between
	// looks at the round context.
	cancelCheckInterval = 1 << 16
)

// Config holds the round shape.
type Config struct {
	BatchSize int
	Workers   int
}

// DefaultConfig returns a batch of DefaultBatchSize spread over every CPU.
func DefaultConfig() Config {
	return Config{
		BatchSize: DefaultBatchSize,
		Workers:   runtime.NumCPU(),
	}
}

// RoundResult is the outcome of one search round.
type RoundResult struct {
	Job       work.Job
	Solutions []work.Solution
	Hashes    uint64
	Elapsed   time.Duration
	// BestNibbles is the most leading zero nibbles seen in the round.
	BestNibbles int
}

// HashRate returns hashes per second for the round.
func (r *RoundResult) HashRate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Hashes) / r.Elapsed.Seconds()
}

// Miner executes search rounds. It holds no per-round state and is safe to
// reuse, but rounds are expected to run one at a time.
type Miner struct {
	batchSize int
	workers   int
	logger    *log.Logger
}

// New creates a miner. Non-positive sizes fall back to DefaultConfig values
// and the batch is capped at MaxBatchSize.
func New(cfg Config, logger *log.Logger) *Miner {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if limit := uint64(MaxBatchSize); uint64(cfg.BatchSize) > limit {
		cfg.BatchSize = int(limit)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Workers > cfg.BatchSize {
		cfg.Workers = cfg.BatchSize
	}

	return &Miner{
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
		logger:    logger.WithComponent("miner"),
	}
}

// BatchSize returns the number of candidates per round.
func (m *Miner) BatchSize() int { return m.batchSize }

// Workers returns the round fan-out.
func (m *Miner) Workers() int { return m.workers }

type workerResult struct {
	solutions []work.Solution
	hashes    uint64
	best      int
}

type slotRange struct {
	lo, hi uint32
}

// splitSlots cuts [0, batch) into workers contiguous ranges whose sizes differ
// by at most one. batch must not exceed MaxBatchSize.
func splitSlots(batch, workers int) []slotRange {
	ranges := make([]slotRange, workers)
	per := batch / workers
	extra := batch % workers
	lo := 0
	for w := range ranges {
		hi := lo + per
		if w < extra {
			hi++
		}
		ranges[w] = slotRange{lo: uint32(lo), hi: uint32(hi)}
		lo = hi
	}
	return ranges
}

// Round hashes BatchSize candidates against job. The job is a value copy and
// is never re-read, so a concurrent replacement in the work state does not
// affect a running round. Cancelling ctx abandons the remaining candidates at
// the next chunk boundary; the partial result is still returned.
func (m *Miner) Round(ctx context.Context, job work.Job) *RoundResult {
	start := time.Now()

	results := make([]workerResult, m.workers)
	swg := sizedwaitgroup.New(m.workers)

	for w, r := range splitSlots(m.batchSize, m.workers) {
		swg.Add()
		go func(w int, r slotRange) {
			defer swg.Done()
			results[w] = searchRange(ctx, &job, r.lo, r.hi)
		}(w, r)
	}
	swg.Wait()

	res := &RoundResult{Job: job}
	for _, r := range results {
		res.Hashes += r.hashes
		res.Solutions = append(res.Solutions, r.solutions...)
		res.BestNibbles = max(res.BestNibbles, r.best)
	}
	res.Elapsed = time.Since(start)

	m.logger.Debug("round finished",
		"workers", m.workers,
		"batch_size", m.batchSize,
		"hashes", res.Hashes,
		"solutions", len(res.Solutions),
		"best_nibbles", res.BestNibbles,
		"duration_ms", res.Elapsed.Milliseconds(),
	)

	return res
}

// searchRange hashes slots [lo, hi) with its own preimage buffer.
func searchRange(ctx context.Context, job *work.Job, lo, hi uint32) workerResult {
	var out workerResult

	n := len(job.Challenge)
	preimage := make([]byte, n+work.NonceSize)
	copy(preimage, job.Challenge)
	nonce := preimage[n:]

	rng := newWorkerRand()

	for slot := lo; slot < hi; slot++ {
		if (slot-lo)%cancelCheckInterval == 0 && ctx.Err() != nil {
			break
		}

		putNonce(nonce, slot, rng)
		hash := DoubleHash(preimage)
		out.hashes++

		if hash[0]>>4 == 0 {
			out.best = max(out.best, validation.LeadingZeroNibbles(hash[:]))
		}
		if validation.Satisfies(hash[:], job.Difficulty) {
			var fixed [work.NonceSize]byte
			copy(fixed[:], nonce)
			out.solutions = append(out.solutions, work.NewSolution(job, fixed, hash))
		}
	}

	return out
}
