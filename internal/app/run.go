package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

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

// runPipelineOnce is the scheduled unit: one ingest pass followed by one
// enrichment pass over whatever is pending.
func runPipelineOnce(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	enrichLimit := fs.Int("enrich-limit", 100, "Maximum records per enrichment pass")

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
		logger.Error().Err(err).Msg("run command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	gateway := store.New(pool)

	svc := pipeline.NewService(gateway, logger)
	ingestResult, err := svc.RunIngest(ctx, srcs)
	if err != nil {
		logger.Error().Err(err).Msg("ingest stage failed")
		fmt.Fprintf(os.Stderr, "Run failed during ingest: %v\n", err)
		return 1
	}
	ic := ingestResult.Counters
	fmt.Printf(
		"ingest run=%s fetched=%d normalized=%d inserted=%d updated=%d duplicates=%d normalization_failures=%d source_failures=%d\n",
		ingestResult.RunUUID,
		ic.Fetched,
		ic.Normalized,
		ic.Inserted,
		ic.Updated,
		ic.Duplicates,
		ic.NormalizationFailures,
		ic.SourceFailures,
	)

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
	enrichResult, err := orch.EnrichPending(ctx, *enrichLimit)
	if err != nil {
		logger.Error().Err(err).Msg("enrich stage failed")
		fmt.Fprintf(os.Stderr, "Run failed during enrich: %v\n", err)
		return 1
	}
	fmt.Printf(
		"enrich pending=%d enriched=%d fallback=%d failed=%d content_fetched=%d\n",
		enrichResult.Pending,
		enrichResult.Enriched,
		enrichResult.Fallback,
		enrichResult.Failed,
		enrichResult.ContentFetched,
	)

	logger.Info().
		Str("run_uuid", ingestResult.RunUUID).
		Int("fetched", ic.Fetched).
		Int("inserted", ic.Inserted).
		Int("updated", ic.Updated).
		Int("duplicates", ic.Duplicates).
		Int("enriched", enrichResult.Enriched).
		Int("fallback", enrichResult.Fallback).
		Int("enrich_failed", enrichResult.Failed).
		Msg("pipeline run completed")
	return 0
}
