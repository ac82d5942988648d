// Package work holds the mining job model: the immutable Job snapshot issued
// by the job source, the Solution produced when a nonce satisfies it, and the
// lock-guarded State that hands consistent snapshots to the search loop.
package work

import (
	"encoding/hex"
	"time"

	"github.com/bardlex/powminer/internal/validation"
	"github.com/bardlex/powminer/pkg/errors"
)

// NonceSize is the width of every candidate nonce appended to the challenge.
const NonceSize = 8

// HashSize is the length of a double SHA-256 digest.
const HashSize = 32

// Job is one mining target. Treat it as immutable: State hands out copies and
// nothing mutates Challenge after DecodeJob returns.
type Job struct {
	// Challenge is the hex-decoded, byte-reversed challenge used as preimage prefix.
	Challenge []byte
	// ChallengeHex is the challenge as the job source sent it.
	ChallengeHex string
	// Difficulty is the number of leading zero nibbles required.
	Difficulty int
	// Location identifies where a solution is credited.
	Location string
	// ID is the token/contract identifier.
	ID string
	// Ticker is a display label.
	Ticker string
}

// Satisfiable reports whether any digest can meet the job's difficulty.
func (j Job) Satisfiable() bool {
	return j.Difficulty <= validation.MaxDifficulty(HashSize)
}

// ChallengePrefix returns the first n hex characters of the reversed challenge for log lines.
func (j Job) ChallengePrefix(n int) string {
	s := hex.EncodeToString(j.Challenge)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// SameChallenge reports whether other carries the same challenge as j.
func (j Job) SameChallenge(other Job) bool {
	return j.ChallengeHex == other.ChallengeHex
}

// Solution is a nonce whose double hash met the job difficulty. Ownership
// passes from the miner to the submitter; it is never modified.
type Solution struct {
	Nonce     [NonceSize]byte
	Hash      [HashSize]byte
	Location  string
	TokenID   string
	Ticker    string
	Challenge []byte
	FoundAt   time.Time
}

// NonceHex returns the nonce as sent to the job source.
func (s *Solution) NonceHex() string {
	return hex.EncodeToString(s.Nonce[:])
}

// HashHex returns the winning hash as sent to the job source.
func (s *Solution) HashHex() string {
	return hex.EncodeToString(s.Hash[:])
}

// NewSolution copies the credit fields of job at discovery time.
func NewSolution(job *Job, nonce [NonceSize]byte, hash [HashSize]byte) Solution {
	return Solution{
		Nonce:     nonce,
		Hash:      hash,
		Location:  job.Location,
		TokenID:   job.ID,
		Ticker:    job.Ticker,
		Challenge: job.Challenge,
		FoundAt:   time.Now(),
	}
}

// DecodeChallenge hex-decodes a wire challenge and reverses its byte order.
func DecodeChallenge(challengeHex string) ([]byte, error) {
	raw, err := hex.DecodeString(challengeHex)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "decode_challenge",
			"challenge is not valid hex").
			WithContext("challenge", challengeHex)
	}
	Reverse(raw)
	return raw, nil
}

// Reverse reverses b in place.
func Reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// DecodeJob builds a Job from the job source's fields.
func DecodeJob(challengeHex string, difficulty int, location, id, ticker string) (*Job, error) {
	if difficulty < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "decode_job",
			"difficulty must not be negative").
			WithContext("difficulty", difficulty)
	}

	challenge, err := DecodeChallenge(challengeHex)
	if err != nil {
		return nil, err
	}

	return &Job{
		Challenge:    challenge,
		ChallengeHex: challengeHex,
		Difficulty:   difficulty,
		Location:     location,
		ID:           id,
		Ticker:       ticker,
	}, nil
}
