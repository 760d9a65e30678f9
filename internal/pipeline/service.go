package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"horse.fit/mediawatch/internal/globaltime"
	"horse.fit/mediawatch/internal/store"
)

// Source is one upstream feed as the ingest loop sees it: a name for run
// bookkeeping, a platform for normalization, and raw payloads. Connectors
// under internal/sources satisfy it.
type Source interface {
	Name() string
	Platform() store.Platform
	Fetch(ctx context.Context) ([]json.RawMessage, error)
}

// Store is the persistence surface the ingest loop writes through.
type Store interface {
	Lookup
	Upsert(ctx context.Context, rec *store.Record) error
	StartIngestRun(ctx context.Context, scope []string) (string, error)
	FinishIngestRun(ctx context.Context, runUUID string, counters store.RunCounters, runErr error) error
}

type Service struct {
	store    Store
	resolver *Resolver
	logger   zerolog.Logger
}

type IngestResult struct {
	RunUUID  string
	Counters store.RunCounters
}

func NewService(st Store, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		resolver: NewResolver(st),
		logger:   logger,
	}
}

// RunIngest pulls every source once and lands the batch: fetch, normalize,
// fingerprint, dedup, upsert, in that order. A source that fails to fetch is
// skipped and counted; a payload that fails to normalize is skipped and
// counted. Only store errors abort the run, and the ingest run row records
// the outcome either way.
func (s *Service) RunIngest(ctx context.Context, srcs []Source) (IngestResult, error) {
	if s == nil || s.store == nil {
		return IngestResult{}, fmt.Errorf("pipeline service is not initialized")
	}

	scope := make([]string, 0, len(srcs))
	for _, src := range srcs {
		scope = append(scope, src.Name())
	}

	runUUID, err := s.store.StartIngestRun(ctx, scope)
	if err != nil {
		return IngestResult{}, fmt.Errorf("start ingest run: %w", err)
	}

	result := IngestResult{RunUUID: runUUID}
	counters := &result.Counters

	batch := s.collect(ctx, srcs, counters)

	if err := s.land(ctx, batch, counters); err != nil {
		s.finishRun(ctx, runUUID, *counters, err)
		return result, err
	}

	s.finishRun(ctx, runUUID, *counters, nil)
	s.logger.Info().
		Str("run_uuid", runUUID).
		Int("fetched", counters.Fetched).
		Int("normalized", counters.Normalized).
		Int("inserted", counters.Inserted).
		Int("updated", counters.Updated).
		Int("duplicates", counters.Duplicates).
		Int("normalization_failures", counters.NormalizationFailures).
		Int("source_failures", counters.SourceFailures).
		Msg("ingest run finished")
	return result, nil
}

// collect fetches and normalizes every source into one fingerprinted batch.
// Failures stay local to the payload or source that caused them.
func (s *Service) collect(ctx context.Context, srcs []Source, counters *store.RunCounters) []*store.Record {
	var batch []*store.Record
	for _, src := range srcs {
		payloads, err := src.Fetch(ctx)
		if err != nil {
			counters.SourceFailures++
			s.logger.Warn().Err(err).Str("source", src.Name()).Msg("source fetch failed, skipping")
			continue
		}
		counters.Fetched += len(payloads)

		for _, payload := range payloads {
			rec, err := Normalize(payload, src.Platform())
			if err != nil {
				counters.NormalizationFailures++
				var normErr *NormalizationError
				if errors.As(err, &normErr) {
					s.logger.Warn().
						Str("source", src.Name()).
						Str("platform", string(normErr.Platform)).
						Str("field", normErr.Field).
						Msg("payload dropped during normalization")
				} else {
					s.logger.Warn().Err(err).Str("source", src.Name()).Msg("payload dropped during normalization")
				}
				continue
			}

			ApplyFingerprint(rec)
			rec.IngestedAt = globaltime.UTC()
			batch = append(batch, rec)
			counters.Normalized++
		}
	}
	return batch
}

// land resolves duplicates and writes the surviving records in batch order.
func (s *Service) land(ctx context.Context, batch []*store.Record, counters *store.RunCounters) error {
	resolutions, err := s.resolver.Resolve(ctx, batch)
	if err != nil {
		return fmt.Errorf("resolve batch: %w", err)
	}
	counters.Duplicates += len(batch) - len(resolutions)

	for _, res := range resolutions {
		if err := s.store.Upsert(ctx, res.Record); err != nil {
			return fmt.Errorf("upsert record %s: %w", res.Record.IdentityKey, err)
		}
		switch res.Action {
		case ActionUpdate:
			counters.Updated++
		default:
			counters.Inserted++
		}
		if res.Record.DuplicateOf != "" {
			counters.Duplicates++
			s.logger.Debug().
				Str("identity_key", res.Record.IdentityKey).
				Str("duplicate_of", res.Record.DuplicateOf).
				Msg("content match linked")
		}
	}
	return nil
}

func (s *Service) finishRun(ctx context.Context, runUUID string, counters store.RunCounters, runErr error) {
	if err := s.store.FinishIngestRun(ctx, runUUID, counters, runErr); err != nil {
		s.logger.Error().Err(err).Str("run_uuid", runUUID).Msg("failed to finalize ingest run")
	}
}
