package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"horse.fit/mediawatch/internal/db"
)

var (
	// ErrNoRecord signals a lookup miss.
	ErrNoRecord = errors.New("record not found")

	// ErrStoreConflict signals that a guarded write lost to a concurrent
	// state transition on the same identity key. Callers re-read and decide.
	ErrStoreConflict = errors.New("store conflict on identity key")
)

// Gateway is the idempotent store boundary. Every write is either a keyed
// upsert or a state-guarded update, so re-applying the same operation
// converges instead of duplicating or regressing.
type Gateway struct {
	pool *db.Pool
}

func New(pool *db.Pool) *Gateway {
	return &Gateway{pool: pool}
}

const recordColumns = `
	r.identity_key,
	r.content_key,
	r.platform::text,
	r.source_type::text,
	r.publisher,
	r.url,
	r.canonical_url,
	r.title,
	r.summary,
	r.full_text,
	r.published_at,
	r.ingested_at,
	r.raw_payload,
	r.duplicate_of,
	r.enrichment_state::text,
	r.enrichment_attempts,
	r.enriched_at,
	r.topics,
	r.actors,
	r.locations,
	r.language,
	r.sentiment,
	r.is_editorial`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec         Record
		platform    string
		sourceType  string
		state       string
		duplicateOf *string
		topicsRaw   []byte
		actorsRaw   []byte
		locsRaw     []byte
	)
	if err := row.Scan(
		&rec.IdentityKey,
		&rec.ContentKey,
		&platform,
		&sourceType,
		&rec.Publisher,
		&rec.URL,
		&rec.CanonicalURL,
		&rec.Title,
		&rec.Summary,
		&rec.FullText,
		&rec.PublishedAt,
		&rec.IngestedAt,
		&rec.RawPayload,
		&duplicateOf,
		&state,
		&rec.EnrichmentAttempts,
		&rec.EnrichedAt,
		&topicsRaw,
		&actorsRaw,
		&locsRaw,
		&rec.Tags.Language,
		&rec.Tags.Sentiment,
		&rec.Tags.IsEditorial,
	); err != nil {
		return nil, err
	}

	rec.Platform = Platform(platform)
	rec.SourceType = SourceType(sourceType)
	rec.EnrichmentState = EnrichmentState(state)
	if duplicateOf != nil {
		rec.DuplicateOf = *duplicateOf
	}
	rec.Tags.Topics = unmarshalStringList(topicsRaw)
	rec.Tags.Actors = unmarshalStringList(actorsRaw)
	rec.Tags.Locations = unmarshalStringList(locsRaw)
	return &rec, nil
}

// Upsert writes a record keyed on identity_key. The first write fixes
// ingested_at, raw keys, and enrichment bookkeeping; later writes for the
// same key merge non-empty incoming fields and refresh the raw payload, and
// never touch enrichment state. Re-applying an identical upsert is a no-op
// beyond updated_at. The single statement is also the per-key serialization
// point: concurrent writers queue on the row instead of racing.
func (g *Gateway) Upsert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if rec.IdentityKey == "" || rec.ContentKey == "" {
		return fmt.Errorf("record is missing fingerprint keys")
	}
	if !rec.Platform.Valid() {
		return fmt.Errorf("invalid platform %q", rec.Platform)
	}

	const q = `
INSERT INTO media.records (
	identity_key, content_key, platform, source_type, publisher, url,
	canonical_url, title, summary, published_at, ingested_at, raw_payload,
	duplicate_of, created_at, updated_at
) VALUES (
	$1, $2, $3::media.platform, $4::media.source_type, $5, $6,
	$7, $8, $9, $10, $11, $12::jsonb,
	NULLIF($13, ''), now(), now()
)
ON CONFLICT (identity_key) DO UPDATE SET
	publisher    = CASE WHEN EXCLUDED.publisher <> '' THEN EXCLUDED.publisher ELSE media.records.publisher END,
	title        = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE media.records.title END,
	summary      = CASE WHEN EXCLUDED.summary <> '' THEN EXCLUDED.summary ELSE media.records.summary END,
	published_at = COALESCE(EXCLUDED.published_at, media.records.published_at),
	raw_payload  = EXCLUDED.raw_payload,
	duplicate_of = COALESCE(media.records.duplicate_of, EXCLUDED.duplicate_of),
	updated_at   = now()
`

	payload := string(rec.RawPayload)
	if payload == "" {
		payload = "{}"
	}

	_, err := g.pool.Exec(ctx, q,
		rec.IdentityKey,
		rec.ContentKey,
		string(rec.Platform),
		string(rec.Platform.SourceType()),
		rec.Publisher,
		rec.URL,
		rec.CanonicalURL,
		rec.Title,
		rec.Summary,
		rec.PublishedAt,
		rec.IngestedAt.UTC(),
		payload,
		rec.DuplicateOf,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.IdentityKey, err)
	}
	return nil
}

func (g *Gateway) ByIdentityKey(ctx context.Context, identityKey string) (*Record, error) {
	q := `SELECT` + recordColumns + `
FROM media.records r
WHERE r.identity_key = $1`

	rec, err := scanRecord(g.pool.QueryRow(ctx, q, identityKey))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("query record by identity key: %w", err)
	}
	return rec, nil
}

// ByContentKey returns the earliest record carrying the content fingerprint.
// The earliest sighting is the target of duplicate_of back-references.
func (g *Gateway) ByContentKey(ctx context.Context, contentKey string) (*Record, error) {
	q := `SELECT` + recordColumns + `
FROM media.records r
WHERE r.content_key = $1
ORDER BY r.ingested_at ASC, r.record_id ASC
LIMIT 1`

	rec, err := scanRecord(g.pool.QueryRow(ctx, q, contentKey))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("query record by content key: %w", err)
	}
	return rec, nil
}

// ListEnrichable returns the oldest records still owed a classification pass:
// pending ones, plus failed ones that have attempts left under the cap.
func (g *Gateway) ListEnrichable(ctx context.Context, limit, maxAttempts int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	q := `SELECT` + recordColumns + `
FROM media.records r
WHERE r.enrichment_state = 'pending'
   OR (r.enrichment_state = 'enrichment_failed' AND r.enrichment_attempts < $1)
ORDER BY r.ingested_at ASC, r.record_id ASC
LIMIT $2`

	rows, err := g.pool.Query(ctx, q, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query enrichable records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrichable record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrichable records: %w", err)
	}
	return records, nil
}

// ApplyEnrichment moves a record into a terminal enriched state and attaches
// its tags. The update is guarded on the current state, so a record that
// already reached a terminal state is left alone and the caller gets
// ErrStoreConflict instead of a silent regression.
func (g *Gateway) ApplyEnrichment(ctx context.Context, identityKey string, tags Tags, state EnrichmentState, enrichedAt time.Time) error {
	if !state.Terminal() {
		return fmt.Errorf("state %q is not a terminal enrichment state", state)
	}

	const q = `
UPDATE media.records SET
	topics = $2::jsonb,
	actors = $3::jsonb,
	locations = $4::jsonb,
	language = $5,
	sentiment = $6,
	is_editorial = $7,
	enrichment_state = $8::media.enrichment_state,
	enrichment_attempts = enrichment_attempts + 1,
	enriched_at = $9,
	updated_at = now()
WHERE identity_key = $1
  AND enrichment_state IN ('pending', 'enrichment_failed')
`

	tag, err := g.pool.Exec(ctx, q,
		identityKey,
		marshalStringList(tags.Topics),
		marshalStringList(tags.Actors),
		marshalStringList(tags.Locations),
		tags.Language,
		tags.Sentiment,
		tags.IsEditorial,
		string(state),
		enrichedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("apply enrichment for %s: %w", identityKey, err)
	}
	if tag.RowsAffected() == 0 {
		return g.classifyGuardMiss(ctx, identityKey)
	}
	return nil
}

// MarkEnrichmentFailed counts a failed attempt, keeping the record eligible
// for the next pass while under the attempt cap.
func (g *Gateway) MarkEnrichmentFailed(ctx context.Context, identityKey string) error {
	const q = `
UPDATE media.records SET
	enrichment_state = 'enrichment_failed',
	enrichment_attempts = enrichment_attempts + 1,
	updated_at = now()
WHERE identity_key = $1
  AND enrichment_state IN ('pending', 'enrichment_failed')
`

	tag, err := g.pool.Exec(ctx, q, identityKey)
	if err != nil {
		return fmt.Errorf("mark enrichment failed for %s: %w", identityKey, err)
	}
	if tag.RowsAffected() == 0 {
		return g.classifyGuardMiss(ctx, identityKey)
	}
	return nil
}

func (g *Gateway) classifyGuardMiss(ctx context.Context, identityKey string) error {
	if _, err := g.ByIdentityKey(ctx, identityKey); err != nil {
		if errors.Is(err, ErrNoRecord) {
			return fmt.Errorf("record %s: %w", identityKey, ErrNoRecord)
		}
		return err
	}
	return fmt.Errorf("record %s: %w", identityKey, ErrStoreConflict)
}

// ResetFailed is the explicit operator escape hatch: failed records go back
// to pending with a zeroed attempt counter.
func (g *Gateway) ResetFailed(ctx context.Context) (int64, error) {
	const q = `
UPDATE media.records SET
	enrichment_state = 'pending',
	enrichment_attempts = 0,
	updated_at = now()
WHERE enrichment_state = 'enrichment_failed'
`

	tag, err := g.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("reset failed records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetFullText stores an extracted article body. Existing text is never
// clobbered; extraction only fills gaps.
func (g *Gateway) SetFullText(ctx context.Context, identityKey, text string) error {
	const q = `
UPDATE media.records SET
	full_text = $2,
	updated_at = now()
WHERE identity_key = $1
  AND full_text = ''
`

	if _, err := g.pool.Exec(ctx, q, identityKey, text); err != nil {
		return fmt.Errorf("set full text for %s: %w", identityKey, err)
	}
	return nil
}
