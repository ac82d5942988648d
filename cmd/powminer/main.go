// Package main implements powminer, a proof-of-work mining client for pow20
// tokens. It fetches the current challenge for a ticker, searches nonces on
// every core and submits whatever meets the difficulty.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/bardlex/powminer/internal/chainwatch"
	"github.com/bardlex/powminer/internal/config"
	"github.com/bardlex/powminer/internal/database"
	"github.com/bardlex/powminer/internal/database/influx"
	"github.com/bardlex/powminer/internal/database/redis"
	"github.com/bardlex/powminer/internal/engine"
	"github.com/bardlex/powminer/internal/jobsource"
	"github.com/bardlex/powminer/internal/messaging"
	"github.com/bardlex/powminer/internal/miner"
	"github.com/bardlex/powminer/internal/telemetry"
	"github.com/bardlex/powminer/internal/validation"
	"github.com/bardlex/powminer/pkg/log"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "powminer: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "powminer"
	app.Usage = "mine pow20 tokens"
	app.Version = version

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "tick, t",
			Usage: "token `TICKER` to mine",
		},
		cli.StringFlag{
			Name:  "address, a",
			Usage: "payout `ADDRESS` credited with every share",
		},
		cli.StringFlag{
			Name:  "url",
			Usage: "job source base `URL`",
		},
		cli.StringFlag{
			Name:  "override",
			Usage: "TOML `FILE` pinning the job, watched for changes",
		},
		cli.IntFlag{
			Name:  "batch-size",
			Usage: "candidate nonces per round `N`",
		},
		cli.IntFlag{
			Name:  "workers",
			Usage: "hashing goroutines `N` (default: number of CPUs)",
		},
		cli.StringFlag{
			Name:  "network",
			Usage: "address `NETWORK` [mainnet|testnet|regtest|signet|simnet]",
		},
	}
	app.Action = runMiner
	return app
}

// applyFlags lets command line flags override environment configuration.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("tick") {
		cfg.Ticker = c.String("tick")
	}
	if c.IsSet("address") {
		cfg.Address = c.String("address")
	}
	if c.IsSet("url") {
		cfg.JobSourceURL = c.String("url")
	}
	if c.IsSet("override") {
		cfg.OverridePath = c.String("override")
	}
	if c.IsSet("batch-size") {
		cfg.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("network") {
		cfg.Network = c.String("network")
	}
}

func runMiner(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(c, cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	return run(cfg, c.App.Writer, sigChan)
}

// run mines until a value arrives on stop. An unusable payout address is
// reported on out and is not an error.
func run(cfg *config.Config, out io.Writer, stop <-chan os.Signal) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	params, err := validation.NetworkParams(cfg.Network)
	if err != nil {
		return err
	}
	if _, err := validation.ValidateAddress(cfg.Address, params); err != nil {
		fmt.Fprintf(out, "invalid payout address %q for %s: %v\n", cfg.Address, params.Name, err)
		return nil
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting powminer",
		"version", version,
		"ticker", cfg.Ticker,
		"address", cfg.Address,
		"job_source", cfg.JobSourceURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := jobsource.NewClient(jobsource.Config{
		BaseURL: cfg.JobSourceURL,
		Address: cfg.Address,
		Chain:   cfg.ChainName,
		Wallet:  cfg.WalletName,
		Timeout: cfg.RequestTimeout,
	}, logger)

	var source jobsource.Source = client
	var override *jobsource.Override
	if cfg.OverridePath != "" {
		override = jobsource.NewOverride(cfg.OverridePath, logger)
		if _, err := override.Load(); err != nil {
			logger.WithError(err).Error("job override unreadable, ignoring it")
		}
		source = jobsource.NewOverrideSource(client, override, logger)
	}

	sinks, closeSinks := openSinks(ctx, cfg, logger)
	defer closeSinks()

	dispatcher := telemetry.NewDispatcher(cfg.TelemetryQueueSize, cfg.RequestTimeout, logger, sinks...)
	dispatcher.Start(ctx)

	eng := engine.New(engineConfig(cfg), source, dispatcher, logger)
	if override != nil {
		eng.SetOverride(override)
	}
	if cfg.ChainZMQAddr != "" {
		watcher, err := chainwatch.NewWatcher(cfg.ChainZMQAddr, cfg.ChainZMQTopic, eng, logger)
		if err != nil {
			logger.WithError(err).Error("chain notifications disabled")
		} else {
			eng.SetNotifier(watcher)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- eng.Start(ctx)
	}()

	var runErr error
	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		errCh = nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("engine shutdown failed")
	}
	if errCh != nil {
		runErr = <-errCh
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("telemetry did not drain", "dropped", dispatcher.Dropped())
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("powminer stopped", "dropped_events", dispatcher.Dropped())
	return nil
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Ticker:  cfg.Ticker,
		Address: cfg.Address,
		Miner: miner.Config{
			BatchSize: cfg.BatchSize,
			Workers:   cfg.Workers,
		},
		RefreshInterval:    cfg.RefreshInterval,
		RefreshEveryRounds: cfg.RefreshEveryRounds,
		RefreshRateLimit:   cfg.RefreshRateLimit,
		RequestTimeout:     cfg.RequestTimeout,
		StatusInterval:     cfg.StatusInterval,
	}
}

// openSinks connects the configured telemetry backends. Backends are
// optional, so a failure is logged and the miner runs without it.
func openSinks(ctx context.Context, cfg *config.Config, logger *log.Logger) ([]telemetry.Sink, func()) {
	var sinks []telemetry.Sink
	var closers []func() error

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	dbCfg := &database.Config{
		Address:   cfg.Address,
		LedgerDSN: cfg.LedgerDSN,
	}
	if cfg.RedisURL != "" {
		dbCfg.Redis = redis.DefaultConfig(cfg.RedisURL)
	}
	if cfg.InfluxURL != "" {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
			Host:   host,
		}
	}
	if manager := openDatabase(ctx, dbCfg, logger); manager != nil {
		sinks = append(sinks, manager)
		closers = append(closers, manager.Close)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
		sinks = append(sinks, messaging.NewPublisher(kafkaClient, cfg.Address, host))
		closers = append(closers, kafkaClient.Close)
	}

	return sinks, func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close telemetry backend")
			}
		}
	}
}

// openDatabase returns nil when no backend is configured or the manager
// cannot be built. A failed health check is logged and the manager kept, since
// each backend write is guarded by its own breaker.
func openDatabase(ctx context.Context, dbCfg *database.Config, logger *log.Logger) *database.Manager {
	manager, err := database.NewManager(ctx, dbCfg, logger)
	if err != nil {
		logger.WithError(err).Error("database telemetry disabled")
		return nil
	}
	if !manager.Enabled() {
		_ = manager.Close()
		return nil
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := manager.Health(healthCtx); err != nil {
		logger.WithError(err).Warn("database telemetry backend unhealthy")
	}
	return manager
}
