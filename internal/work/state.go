package work

import "sync"

// State holds the live Job. The refresher is the only writer; the mining loop
// takes one Snapshot per round so a concurrent Replace never produces a
// half-old, half-new job.
type State struct {
	mu      sync.RWMutex
	job     Job
	version uint64
}

// NewState creates a State around the first successfully fetched job.
func NewState(initial Job) *State {
	return &State{job: initial, version: 1}
}

// Snapshot returns a copy of the current job and its version.
func (s *State) Snapshot() (Job, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.job, s.version
}

// Current returns a copy of the current job.
func (s *State) Current() Job {
	job, _ := s.Snapshot()
	return job
}

// Version increments on every replacement.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ReplaceIfChanged installs next when its challenge differs from the held
// job and reports whether it did. An identical challenge leaves the held job
// and its version untouched.
func (s *State) ReplaceIfChanged(next Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job.SameChallenge(next) {
		return false
	}
	s.job = next
	s.version++
	return true
}
