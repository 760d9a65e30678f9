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
	"horse.fit/mediawatch/internal/db"
	"horse.fit/mediawatch/internal/globaltime"
	"horse.fit/mediawatch/internal/logging"
	"horse.fit/mediawatch/internal/report"
	"horse.fit/mediawatch/internal/store"
)

func runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	sinceDays := fs.Int("since-days", 7, "Report window in days, 0 for all time")
	topicsFlag := fs.String("topics", "", "Comma-separated topics for the deep dive (default: largest first)")
	out := fs.String("out", "", "Write the report to this file instead of stdout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *sinceDays < 0 {
		fmt.Fprintln(os.Stderr, "--since-days must be >= 0")
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

	var topics []string
	for _, raw := range strings.Split(*topicsFlag, ",") {
		if topic := strings.TrimSpace(raw); topic != "" {
			topics = append(topics, topic)
		}
	}

	var since *time.Time
	if *sinceDays > 0 {
		cutoff := globaltime.UTC().AddDate(0, 0, -*sinceDays)
		since = &cutoff
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("report command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	var narrative report.NarrativeProvider
	if strings.TrimSpace(cfg.NarrativeAPIKey) != "" {
		narrativeTimeout := time.Duration(monitor.Report.NarrativeTimeoutSeconds) * time.Second
		narrative = report.NewNarrativeClient(cfg.NarrativeAPIKey, monitor.Report.Model, narrativeTimeout)
	} else {
		logger.Warn().Msg("SONAR_API_KEY is not set, deep dive sections stay table-only")
	}

	builder := report.NewBuilder(store.New(pool), narrative, monitor.Report, logger)
	markdown, err := builder.Build(ctx, report.BuildOptions{
		Since:  since,
		Topics: topics,
	})
	if err != nil {
		logger.Error().Err(err).Msg("report build failed")
		fmt.Fprintf(os.Stderr, "Report build failed: %v\n", err)
		return 1
	}

	if strings.TrimSpace(*out) == "" {
		fmt.Print(markdown)
		return 0
	}

	if err := os.WriteFile(*out, []byte(markdown), 0o644); err != nil {
		logger.Error().Err(err).Str("path", *out).Msg("report write failed")
		fmt.Fprintf(os.Stderr, "Report write failed: %v\n", err)
		return 1
	}

	logger.Info().Str("path", *out).Int("since_days", *sinceDays).Msg("report written")
	fmt.Printf("report written to %s\n", *out)
	return 0
}
