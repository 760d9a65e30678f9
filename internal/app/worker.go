package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"horse.fit/mediawatch/internal/cli"
	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/content"
	"horse.fit/mediawatch/internal/db"
	"horse.fit/mediawatch/internal/enrich"
	"horse.fit/mediawatch/internal/logging"
	"horse.fit/mediawatch/internal/pipeline"
	"horse.fit/mediawatch/internal/sources"
	"horse.fit/mediawatch/internal/store"
)

// cronLogger adapts zerolog to the cron.Logger interface. Scheduler chatter
// stays at debug, job panics surface as errors.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	schedule := fs.String("schedule", "*/15 * * * *", "Cron schedule for ingest+enrich cycles")
	enrichLimit := fs.Int("enrich-limit", 100, "Maximum records per enrichment pass")
	cycleTimeout := fs.Duration("cycle-timeout", 10*time.Minute, "Per-cycle timeout")
	runOnStart := fs.Bool("run-on-start", true, "Run one cycle immediately on startup")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *enrichLimit <= 0 {
		fmt.Fprintln(os.Stderr, "--enrich-limit must be > 0")
		return 2
	}
	if _, err := cron.ParseStandard(*schedule); err != nil {
		fmt.Fprintf(os.Stderr, "--schedule is not a valid cron expression: %v\n", err)
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	monitor, err := config.LoadMonitor(cfg.MonitorPath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.MonitorPath).Msg("monitor config rejected")
		fmt.Fprintf(os.Stderr, "Monitor config rejected: %v\n", err)
		return 1
	}

	srcs := sources.FromMonitor(monitor, sources.Keys{
		Aggregator: cfg.AggregatorAPIKey,
		Channel:    cfg.ChannelAPIKey,
	}, logger)
	if len(srcs) == 0 {
		fmt.Fprintln(os.Stderr, "No sources enabled in monitor config")
		return 1
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer connectCancel()

	pool, err := db.NewPool(connectCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("worker failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	gateway := store.New(pool)
	svc := pipeline.NewService(gateway, logger)

	var classifier enrich.BatchClassifier
	if strings.TrimSpace(cfg.ClassifierAPIKey) != "" {
		classifier = enrich.NewClassifier(monitor.Enrichment, cfg.ClassifierAPIKey, monitor.Taxonomy)
	} else {
		logger.Warn().Msg("GEMINI_API_KEY is not set, running keyword fallback only")
	}

	var fetcher enrich.ContentFetcher
	if monitor.Enrichment.FetchContent {
		fetcher = content.NewFetcher()
	}
	orch := enrich.NewOrchestrator(gateway, classifier, fetcher, monitor.Enrichment, monitor.Taxonomy, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	cycle := func() {
		cycleCtx, cycleCancel := context.WithTimeout(ctx, *cycleTimeout)
		defer cycleCancel()

		ingestResult, err := svc.RunIngest(cycleCtx, srcs)
		if err != nil {
			logger.Error().Err(err).Msg("worker ingest cycle failed")
			return
		}
		ic := ingestResult.Counters
		logger.Info().
			Str("run_uuid", ingestResult.RunUUID).
			Int("fetched", ic.Fetched).
			Int("inserted", ic.Inserted).
			Int("updated", ic.Updated).
			Int("duplicates", ic.Duplicates).
			Int("source_failures", ic.SourceFailures).
			Msg("worker ingest cycle completed")

		enrichResult, err := orch.EnrichPending(cycleCtx, *enrichLimit)
		if err != nil {
			logger.Error().Err(err).Msg("worker enrich cycle failed")
			return
		}
		logger.Info().
			Int("pending", enrichResult.Pending).
			Int("enriched", enrichResult.Enriched).
			Int("fallback", enrichResult.Fallback).
			Int("failed", enrichResult.Failed).
			Msg("worker enrich cycle completed")
	}

	wrapLogger := cronLogger{logger: logger}
	scheduler := cron.New(cron.WithChain(
		cron.Recover(wrapLogger),
		cron.SkipIfStillRunning(wrapLogger),
	))
	if _, err := scheduler.AddFunc(*schedule, cycle); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register schedule: %v\n", err)
		return 2
	}

	logger.Info().
		Str("schedule", *schedule).
		Int("sources", len(srcs)).
		Bool("run_on_start", *runOnStart).
		Msg("worker started")

	if *runOnStart {
		cycle()
	}

	scheduler.Start()
	<-ctx.Done()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	logger.Info().Msg("worker stopped")
	return 0
}
