package jobsource

import (
	"context"
	"time"

	"github.com/bardlex/powminer/internal/work"
	"github.com/bardlex/powminer/pkg/log"
	"github.com/bardlex/powminer/pkg/retry"
)

// Bootstrap fetches the first job, retrying transient failures with
// retry.BootstrapConfig. The miner cannot start without it.
func Bootstrap(ctx context.Context, src Source, ticker string, logger *log.Logger) (*work.Job, error) {
	cfg := retry.BootstrapConfig()
	return bootstrapWith(ctx, src, ticker, cfg, logger)
}

func bootstrapWith(ctx context.Context, src Source, ticker string, cfg *retry.Config, logger *log.Logger) (*work.Job, error) {
	logger = logger.WithComponent("bootstrap").WithTicker(ticker)

	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.WithError(err).Warn("initial job fetch failed, retrying",
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
		)
	}

	job, err := retry.DoWithResult(ctx, cfg, func() (*work.Job, error) {
		return src.FetchJob(ctx, ticker)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("initial job fetched", "token_id", job.ID, "difficulty", job.Difficulty)
	return job, nil
}
