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
	"horse.fit/mediawatch/internal/store"
)

func runEnrich(args []string) int {
	fs := flag.NewFlagSet("enrich", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	limit := fs.Int("limit", 100, "Maximum records per enrichment pass")
	resetFailed := fs.Bool("reset-failed", false, "Requeue enrichment_failed records before the pass")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("enrich command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	gateway := store.New(pool)

	if *resetFailed {
		requeued, err := gateway.ResetFailed(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("reset failed records failed")
			fmt.Fprintf(os.Stderr, "Reset failed records failed: %v\n", err)
			return 1
		}
		logger.Info().Int64("requeued", requeued).Msg("failed records reset to pending")
		fmt.Printf("reset_failed requeued=%d\n", requeued)
	}

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
	result, err := orch.EnrichPending(ctx, *limit)
	if err != nil {
		logger.Error().Err(err).Int("limit", *limit).Msg("enrich failed")
		fmt.Fprintf(os.Stderr, "Enrich failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("limit", *limit).
		Int("pending", result.Pending).
		Int("enriched", result.Enriched).
		Int("fallback", result.Fallback).
		Int("failed", result.Failed).
		Int("content_fetched", result.ContentFetched).
		Msg("enrich completed")
	fmt.Printf(
		"enrich pending=%d enriched=%d fallback=%d failed=%d content_fetched=%d limit=%d\n",
		result.Pending,
		result.Enriched,
		result.Fallback,
		result.Failed,
		result.ContentFetched,
		*limit,
	)
	return 0
}
