// Package enrich attaches structured tags to stored records. A generative
// classifier labels batches against the configured taxonomy; a keyword
// tagger backstops it when the classifier is unavailable, keeps failing, or
// returns output that breaks the contract.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/globaltime"
	"horse.fit/mediawatch/internal/retry"
	"horse.fit/mediawatch/internal/store"
)

// Store is the record access the orchestrator needs.
type Store interface {
	ListEnrichable(ctx context.Context, limit, maxAttempts int) ([]*store.Record, error)
	ApplyEnrichment(ctx context.Context, identityKey string, tags store.Tags, state store.EnrichmentState, enrichedAt time.Time) error
	MarkEnrichmentFailed(ctx context.Context, identityKey string) error
	SetFullText(ctx context.Context, identityKey, text string) error
}

// BatchClassifier labels one batch. Implementations tag their errors with
// ErrTransient, ErrPermanent, or ErrSchemaViolation so the orchestrator can
// pick between retrying, falling back, and giving up.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, items []ClassifyItem) ([]ItemResult, error)
}

// ContentFetcher extracts readable article text for a URL.
type ContentFetcher interface {
	FetchText(ctx context.Context, pageURL string) (string, error)
}

// Result counts one enrichment pass.
type Result struct {
	Pending        int
	Enriched       int
	Fallback       int
	Failed         int
	ContentFetched int
}

// Orchestrator drives enrichment passes: list records owed a classification,
// optionally fetch missing article text, classify in bounded-concurrency
// batches, and land every outcome back in the store. A nil classifier sends
// everything straight to the keyword tagger.
type Orchestrator struct {
	store      Store
	classifier BatchClassifier
	fallback   *FallbackTagger
	fetcher    ContentFetcher
	cfg        config.Enrichment
	taxonomy   config.Taxonomy
	retryCfg   retry.Config
	logger     zerolog.Logger
}

func NewOrchestrator(st Store, classifier BatchClassifier, fetcher ContentFetcher, cfg config.Enrichment, taxonomy config.Taxonomy, logger zerolog.Logger) *Orchestrator {
	retryCfg := retry.DefaultConfig()
	retryCfg.IsRetryable = func(err error) bool { return errors.Is(err, ErrTransient) }
	return &Orchestrator{
		store:      st,
		classifier: classifier,
		fallback:   NewFallbackTagger(taxonomy),
		fetcher:    fetcher,
		cfg:        cfg,
		taxonomy:   taxonomy,
		retryCfg:   retryCfg,
		logger:     logger,
	}
}

// EnrichPending runs one pass over at most limit records. Classifier
// failures degrade per batch; only store failures abort the pass.
func (o *Orchestrator) EnrichPending(ctx context.Context, limit int) (*Result, error) {
	if o == nil || o.store == nil {
		return nil, fmt.Errorf("enrichment orchestrator is not initialized")
	}

	records, err := o.store.ListEnrichable(ctx, limit, o.cfg.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list enrichable records: %w", err)
	}

	result := &Result{Pending: len(records)}
	if len(records) == 0 {
		o.logger.Info().Msg("no records awaiting enrichment")
		return result, nil
	}

	result.ContentFetched = o.fetchMissingContent(ctx, records)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	batchSize := o.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 8
	}
	concurrency := o.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < len(records); start += batchSize {
		batch := records[start:min(start+batchSize, len(records))]
		g.Go(func() error {
			return o.processBatch(gctx, batch, &mu, result)
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	o.logger.Info().
		Int("pending", result.Pending).
		Int("enriched", result.Enriched).
		Int("fallback", result.Fallback).
		Int("failed", result.Failed).
		Int("content_fetched", result.ContentFetched).
		Msg("enrichment pass finished")
	return result, nil
}

// fetchMissingContent fills empty full_text fields up to the configured
// budget. Failures are per record and never block classification; the
// summary still carries enough signal.
func (o *Orchestrator) fetchMissingContent(ctx context.Context, records []*store.Record) int {
	if o.fetcher == nil || !o.cfg.FetchContent {
		return 0
	}

	fetched := 0
	for _, rec := range records {
		if fetched >= o.cfg.FetchLimit || ctx.Err() != nil {
			break
		}
		if strings.TrimSpace(rec.FullText) != "" {
			continue
		}
		text, err := o.fetcher.FetchText(ctx, rec.URL)
		if err != nil {
			o.logger.Debug().Err(err).
				Str("identity_key", rec.IdentityKey).
				Str("url", rec.URL).
				Msg("content fetch failed")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := o.store.SetFullText(ctx, rec.IdentityKey, text); err != nil {
			o.logger.Warn().Err(err).
				Str("identity_key", rec.IdentityKey).
				Msg("persist full text failed")
			continue
		}
		rec.FullText = text
		fetched++
	}
	return fetched
}

func (o *Orchestrator) processBatch(ctx context.Context, batch []*store.Record, mu *sync.Mutex, result *Result) error {
	if o.classifier == nil {
		return o.applyFallback(ctx, batch, mu, result)
	}

	items := make([]ClassifyItem, len(batch))
	for i, rec := range batch {
		items[i] = ClassifyItem{
			Index:      i,
			Platform:   string(rec.Platform),
			SourceType: string(rec.SourceType),
			Publisher:  rec.Publisher,
			URL:        rec.URL,
			Title:      rec.Title,
			Summary:    rec.Summary,
			FullText:   rec.FullText,
		}
	}

	var results []ItemResult
	err := retry.Do(ctx, o.retryCfg, func() error {
		var callErr error
		results, callErr = o.classifier.ClassifyBatch(ctx, items)
		return callErr
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrSchemaViolation), errors.Is(err, retry.ErrAttemptsExhausted):
		o.logger.Warn().Err(err).
			Int("batch_size", len(batch)).
			Msg("classifier unusable for batch, applying keyword tags")
		return o.applyFallback(ctx, batch, mu, result)
	case errors.Is(err, retry.ErrContextCancelled):
		return err
	default:
		// Permanent failures still consume an attempt per record.
		o.logger.Error().Err(err).
			Int("batch_size", len(batch)).
			Msg("classifier failed for batch")
		return o.markBatchFailed(ctx, batch, mu, result)
	}

	byIndex := make(map[int]ItemResult, len(results))
	for _, res := range results {
		byIndex[res.Index] = res
	}

	for i, rec := range batch {
		res, ok := byIndex[i]
		if !ok {
			// The model answered without this item.
			if err := o.applyOne(ctx, rec, o.fallback.Tag(rec), store.StateEnrichedFallback, mu, result); err != nil {
				return err
			}
			continue
		}
		if err := o.applyOne(ctx, rec, o.normalizeTags(res), store.StateEnriched, mu, result); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) applyFallback(ctx context.Context, batch []*store.Record, mu *sync.Mutex, result *Result) error {
	for _, rec := range batch {
		if err := o.applyOne(ctx, rec, o.fallback.Tag(rec), store.StateEnrichedFallback, mu, result); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) applyOne(ctx context.Context, rec *store.Record, tags store.Tags, state store.EnrichmentState, mu *sync.Mutex, result *Result) error {
	err := o.store.ApplyEnrichment(ctx, rec.IdentityKey, tags, state, globaltime.UTC())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrStoreConflict):
		o.logger.Debug().
			Str("identity_key", rec.IdentityKey).
			Msg("record already reached a terminal state")
		return nil
	case errors.Is(err, store.ErrNoRecord):
		o.logger.Warn().
			Str("identity_key", rec.IdentityKey).
			Msg("record vanished before enrichment landed")
		return nil
	default:
		return fmt.Errorf("apply enrichment: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if state == store.StateEnriched {
		result.Enriched++
	} else {
		result.Fallback++
	}
	return nil
}

func (o *Orchestrator) markBatchFailed(ctx context.Context, batch []*store.Record, mu *sync.Mutex, result *Result) error {
	for _, rec := range batch {
		err := o.store.MarkEnrichmentFailed(ctx, rec.IdentityKey)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrStoreConflict), errors.Is(err, store.ErrNoRecord):
			continue
		default:
			return fmt.Errorf("mark enrichment failed: %w", err)
		}
		mu.Lock()
		result.Failed++
		mu.Unlock()
	}
	return nil
}

// normalizeTags constrains a classifier answer to the taxonomy contract:
// topics outside the allowed list are dropped, everything is trimmed and
// deduplicated, and free-form language or sentiment values fall back to
// their defaults.
func (o *Orchestrator) normalizeTags(res ItemResult) store.Tags {
	tags := store.Tags{
		Language:  "unknown",
		Sentiment: sentimentNeutral,
	}

	seen := make(map[string]bool, len(res.Topics))
	for _, topic := range res.Topics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic == "" || seen[topic] || !o.taxonomy.HasTopic(topic) {
			continue
		}
		seen[topic] = true
		tags.Topics = append(tags.Topics, topic)
	}

	tags.Actors = dedupeTrimmed(res.Actors)
	tags.Locations = dedupeTrimmed(res.Locations)

	if lang := strings.ToLower(strings.TrimSpace(res.Language)); lang != "" {
		tags.Language = lang
	}
	switch res.Sentiment {
	case sentimentPositive, sentimentNegative, sentimentNeutral:
		tags.Sentiment = res.Sentiment
	}
	tags.IsEditorial = res.IsEditorial
	return tags
}

func dedupeTrimmed(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
