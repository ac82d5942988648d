package submit

import (
	"sync/atomic"
	"time"
)

// Stats counts submission outcomes and search work. Only the submitter and
// the mining loop write to it; everything else reads a Snapshot.
type Stats struct {
	accepted        atomic.Uint64
	rejected        atomic.Uint64
	transportFailed atomic.Uint64
	rounds          atomic.Uint64
	hashes          atomic.Uint64
	started         time.Time
}

// NewStats creates zeroed counters.
func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Accepted        uint64
	Rejected        uint64
	TransportFailed uint64
	Rounds          uint64
	Hashes          uint64
	Uptime          time.Duration
}

func (s *Stats) recordOutcome(o Outcome) {
	switch o {
	case Accepted:
		s.accepted.Add(1)
	case Rejected:
		s.rejected.Add(1)
	case TransportFailed:
		s.transportFailed.Add(1)
	}
}

// RecordRound adds one finished search round.
func (s *Stats) RecordRound(hashes uint64) {
	s.rounds.Add(1)
	s.hashes.Add(hashes)
}

// Accepted returns the number of accepted solutions.
func (s *Stats) Accepted() uint64 { return s.accepted.Load() }

// Rejected returns the number of rejected solutions.
func (s *Stats) Rejected() uint64 { return s.rejected.Load() }

// Snapshot reads every counter.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:        s.accepted.Load(),
		Rejected:        s.rejected.Load(),
		TransportFailed: s.transportFailed.Load(),
		Rounds:          s.rounds.Load(),
		Hashes:          s.hashes.Load(),
		Uptime:          time.Since(s.started),
	}
}
