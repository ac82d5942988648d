// Package submit sends discovered solutions to the job source and keeps the
// accepted and rejected counters. A solution is submitted at most once.
package submit

import (
	"context"
	"net/http"
	"time"

	"github.com/bardlex/powminer/internal/work"
	"github.com/bardlex/powminer/pkg/errors"
	"github.com/bardlex/powminer/pkg/log"
)

// Outcome classifies one submission.
type Outcome int

const (
	// Accepted means the job source answered 201.
	Accepted Outcome = iota
	// Rejected means the job source answered with any other status.
	Rejected
	// TransportFailed means no answer was received.
	TransportFailed
)

// String returns the outcome name used in logs and telemetry.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case TransportFailed:
		return "transport_failed"
	default:
		return "unknown"
	}
}

// Result describes one submission.
type Result struct {
	Outcome Outcome
	Status  int
	// Reason is the response body for a rejection.
	Reason  string
	Err     error
	Elapsed time.Duration
}

// Poster is the part of the job source the submitter needs.
type Poster interface {
	SubmitSolution(ctx context.Context, sol *work.Solution) (int, string, error)
}

// Trigger requests a job refresh.
type Trigger interface {
	Trigger()
}

// ShareListener is told about every submission.
type ShareListener interface {
	ShareSubmitted(sol work.Solution, res Result)
}

// Submitter posts solutions and records outcomes.
type Submitter struct {
	poster   Poster
	stats    *Stats
	trigger  Trigger
	listener ShareListener
	timeout  time.Duration
	logger   *log.Logger
}

// NewSubmitter creates a submitter. trigger may be nil.
func NewSubmitter(poster Poster, stats *Stats, trigger Trigger, timeout time.Duration, logger *log.Logger) *Submitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Submitter{
		poster:  poster,
		stats:   stats,
		trigger: trigger,
		timeout: timeout,
		logger:  logger.WithComponent("submitter"),
	}
}

// SetListener registers l for submission results.
func (s *Submitter) SetListener(l ShareListener) {
	s.listener = l
}

// Submit sends sol once. Whatever the outcome, a job refresh is requested
// afterwards since a find often means the challenge has moved on.
func (s *Submitter) Submit(ctx context.Context, sol *work.Solution) Result {
	logger := s.logger.WithSolution(sol.NonceHex(), sol.HashHex())
	logger.Info("found share", "token_id", sol.TokenID, "location", sol.Location)

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	status, body, err := s.poster.SubmitSolution(submitCtx, sol)

	res := Result{Status: status, Elapsed: time.Since(start)}
	switch {
	case err != nil:
		res.Outcome = TransportFailed
		res.Err = errors.Wrap(err, errors.ErrorTypeNetwork, "submit_solution", "solution was not delivered").
			WithContext("token_id", sol.TokenID)
		logger.WithError(res.Err).Error("share submission failed")
	case status == http.StatusCreated:
		res.Outcome = Accepted
		logger.Info("accepted share")
	default:
		res.Outcome = Rejected
		res.Reason = body
		logger.Warn("rejected share", "status_code", status, "reason", body)
	}

	s.stats.recordOutcome(res.Outcome)
	s.logger.LogShareSubmission(sol.TokenID, sol.NonceHex(), sol.HashHex(), res.Outcome.String(), status)

	if s.listener != nil {
		s.listener.ShareSubmitted(*sol, res)
	}
	if s.trigger != nil {
		s.trigger.Trigger()
	}
	return res
}
