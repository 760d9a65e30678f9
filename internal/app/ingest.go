package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/mediawatch/internal/cli"
	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/db"
	"horse.fit/mediawatch/internal/logging"
	"horse.fit/mediawatch/internal/pipeline"
	"horse.fit/mediawatch/internal/sources"
	"horse.fit/mediawatch/internal/store"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("ingest command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := pipeline.NewService(store.New(pool), logger)
	result, err := svc.RunIngest(ctx, srcs)
	if err != nil {
		logger.Error().Err(err).Msg("ingest failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	c := result.Counters
	logger.Info().
		Str("run_uuid", result.RunUUID).
		Int("sources", len(srcs)).
		Int("fetched", c.Fetched).
		Int("normalized", c.Normalized).
		Int("inserted", c.Inserted).
		Int("updated", c.Updated).
		Int("duplicates", c.Duplicates).
		Int("normalization_failures", c.NormalizationFailures).
		Int("source_failures", c.SourceFailures).
		Msg("ingest completed")
	fmt.Printf(
		"ingest run=%s fetched=%d normalized=%d inserted=%d updated=%d duplicates=%d normalization_failures=%d source_failures=%d\n",
		result.RunUUID,
		c.Fetched,
		c.Normalized,
		c.Inserted,
		c.Updated,
		c.Duplicates,
		c.NormalizationFailures,
		c.SourceFailures,
	)
	return 0
}
