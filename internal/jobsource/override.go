package jobsource

import (
	"context"
	goerrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml"

	"github.com/bardlex/powminer/internal/work"
	"github.com/bardlex/powminer/pkg/errors"
	"github.com/bardlex/powminer/pkg/log"
)

// overrideFile is the on-disk layout of the override:
//
//	[job]
//	challenge = "00ff"
//	difficulty = 4
//	location = "txid_0"
//	id = "token"
//	ticker = "PEPE"
type overrideFile struct {
	Job overrideJob `toml:"job"`
}

type overrideJob struct {
	Challenge  string `toml:"challenge"`
	Difficulty int    `toml:"difficulty"`
	Location   string `toml:"location"`
	ID         string `toml:"id"`
	Ticker     string `toml:"ticker"`
}

func loadTOMLFile[T any](path string) (*T, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if goerrors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, errors.ErrorTypeConfig, "read_override", "failed to read file").
			WithContext("path", path)
	}

	var v T
	if err := toml.Unmarshal(data, &v); err != nil {
		return nil, true, errors.Wrap(err, errors.ErrorTypeConfig, "parse_override", "failed to parse file").
			WithContext("path", path)
	}
	return &v, true, nil
}

// Override holds a job pinned by a local TOML file. A missing file means no
// override; a malformed one is reported and ignored.
type Override struct {
	path   string
	logger *log.Logger

	mu  sync.RWMutex
	job *work.Job
}

// NewOverride creates an override bound to path. An empty path disables it.
func NewOverride(path string, logger *log.Logger) *Override {
	return &Override{
		path:   path,
		logger: logger.WithComponent("job_override"),
	}
}

// Path returns the watched file.
func (o *Override) Path() string { return o.path }

// Load re-reads the override file and reports whether an override is active.
func (o *Override) Load() (bool, error) {
	if o.path == "" {
		return false, nil
	}

	file, found, err := loadTOMLFile[overrideFile](o.path)
	if err != nil || !found {
		o.set(nil)
		return false, err
	}

	j := file.Job
	job, err := work.DecodeJob(j.Challenge, j.Difficulty, j.Location, j.ID, j.Ticker)
	if err != nil {
		o.set(nil)
		return false, errors.Wrap(err, errors.ErrorTypeConfig, "load_override", "override job is invalid").
			WithContext("path", o.path)
	}

	o.set(job)
	return true, nil
}

func (o *Override) set(job *work.Job) {
	o.mu.Lock()
	o.job = job
	o.mu.Unlock()
}

// Job returns a copy of the pinned job, or nil when none is active.
func (o *Override) Job() *work.Job {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.job == nil {
		return nil
	}
	j := *o.job
	return &j
}

// Watch reloads the override whenever its file is created, written, renamed
// or removed, and calls onChange after each reload. It blocks until ctx is
// done. The parent directory is watched so the file may appear later.
func (o *Override) Watch(ctx context.Context, onChange func()) error {
	if o.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "watch_override", "failed to create file watcher")
	}
	defer func() {
		if cerr := watcher.Close(); cerr != nil {
			o.logger.Debug("failed to close file watcher", "error", cerr)
		}
	}()

	target := filepath.Clean(o.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "watch_override", "failed to watch override directory").
			WithContext("path", o.path)
	}

	o.logger.Info("watching job override file", "path", o.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !isOverrideEvent(event) {
				continue
			}

			active, err := o.Load()
			if err != nil {
				o.logger.WithError(err).Error("job override reload failed, override disabled")
			} else {
				o.logger.Warn("job override reloaded", "active", active, "op", event.Op.String())
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.logger.WithError(err).Warn("file watcher error")
		}
	}
}

func isOverrideEvent(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

// OverrideSource serves the override job while one is active and the
// upstream job otherwise. The upstream is queried on every fetch either way,
// so its failures stay visible in the logs.
type OverrideSource struct {
	upstream Source
	override *Override
	logger   *log.Logger

	active atomic.Bool
}

// NewOverrideSource wraps upstream with override.
func NewOverrideSource(upstream Source, override *Override, logger *log.Logger) *OverrideSource {
	return &OverrideSource{
		upstream: upstream,
		override: override,
		logger:   logger.WithComponent("job_override"),
	}
}

// FetchJob implements Source.
func (s *OverrideSource) FetchJob(ctx context.Context, ticker string) (*work.Job, error) {
	job, err := s.upstream.FetchJob(ctx, ticker)

	pinned := s.override.Job()
	if pinned == nil {
		if s.active.Swap(false) {
			s.logger.Warn("job override cleared, using job source", "path", s.override.Path())
		}
		return job, err
	}

	if !s.active.Swap(true) {
		s.logger.Warn("JOB OVERRIDE ACTIVE, job source answers are ignored",
			"path", s.override.Path(),
			"challenge", pinned.ChallengeHex,
			"difficulty", pinned.Difficulty,
			"location", pinned.Location,
		)
	}
	if err != nil {
		s.logger.WithError(err).Warn("job source fetch failed while override active")
	}

	if pinned.Ticker == "" {
		pinned.Ticker = ticker
	}
	return pinned, nil
}

// SubmitSolution implements Source. Solutions always go to the upstream.
func (s *OverrideSource) SubmitSolution(ctx context.Context, sol *work.Solution) (int, string, error) {
	return s.upstream.SubmitSolution(ctx, sol)
}
