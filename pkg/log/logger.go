// Package log provides structured logging for the powminer client.
// It wraps the standard library's slog package with mining-specific helpers.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w. Tests use it to capture output.
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return NewWithWriter(io.Discard, "nop", "", "error", "json")
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithTicker returns a logger scoped to one market
func (l *Logger) WithTicker(ticker string) *Logger {
	return l.WithFields("ticker", ticker)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(tokenID string, difficulty int) *Logger {
	return l.WithFields("token_id", tokenID, "difficulty", difficulty)
}

// WithSolution returns a logger with share-specific fields
func (l *Logger) WithSolution(nonce, hash string) *Logger {
	return l.WithFields("nonce", nonce, "hash", hash)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration int64) {
	l.Debug("operation completed",
		"operation", operation,
		"duration_ns", duration,
		"duration_ms", float64(duration)/1e6,
	)
}

// LogThroughput logs throughput metrics
func (l *Logger) LogThroughput(operation string, count int64, duration int64) {
	var rate float64
	if duration > 0 {
		rate = float64(count) / (float64(duration) / 1e9)
	}
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"duration_ns", duration,
		"rate_per_sec", rate,
	)
}

// LogHashRate logs the outcome of one search round
func (l *Logger) LogHashRate(hashes uint64, durationNs int64, solutions int) {
	var rate float64
	if durationNs > 0 {
		rate = float64(hashes) / (float64(durationNs) / 1e9)
	}
	l.Info("round completed",
		"hashes", hashes,
		"duration_ms", float64(durationNs)/1e6,
		"mhs", rate/1e6,
		"solutions", solutions,
	)
}

// LogJobChange logs installation of a new job
func (l *Logger) LogJobChange(ticker, challenge string, difficulty int, location string) {
	l.Info("new job",
		"ticker", ticker,
		"difficulty", difficulty,
		"target", strings.Repeat("0", max(difficulty, 0)),
		"challenge", challenge,
		"location", location,
	)
}

// LogShareSubmission logs a share submission outcome
func (l *Logger) LogShareSubmission(tokenID, nonce, hash, outcome string, statusCode int) {
	l.Info("share submission",
		"token_id", tokenID,
		"nonce", nonce,
		"hash", hash,
		"outcome", outcome,
		"status_code", statusCode,
	)
}
