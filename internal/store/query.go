package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultQueryLimit = 1000
	maxQueryLimit     = 5000
)

// TimeField selects which timestamp a window filter applies to. The published
// field falls back to ingested_at for records whose publish time is unknown.
type TimeField string

const (
	TimeFieldPublished TimeField = "published"
	TimeFieldIngested  TimeField = "ingested"
)

// Filter narrows a record query. Zero values mean "no constraint"; list
// filters use any-of semantics.
type Filter struct {
	Since     *time.Time
	Until     *time.Time
	TimeField TimeField

	Topics   []string
	Actors   []string
	Platform Platform
	States   []EnrichmentState

	// Search matches title, publisher or URL case-insensitively.
	Search string

	Limit  int
	Offset int
}

// Query returns records matching the filter in stable order
// (ingested_at ASC, record_id ASC), so pagination is deterministic. A row is
// only visible once fully written; partial tag updates never surface because
// every tag write is a single guarded statement.
func (g *Gateway) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	timeField := string(filter.TimeField)
	if timeField == "" {
		timeField = string(TimeFieldPublished)
	}

	states := make([]string, 0, len(filter.States))
	for _, s := range filter.States {
		if s.Valid() {
			states = append(states, string(s))
		}
	}

	q := `SELECT` + recordColumns + `
FROM media.records r
WHERE ($1 = '' OR r.platform = $1::media.platform)
  AND (cardinality($2::text[]) = 0 OR r.enrichment_state::text = ANY($2))
  AND (cardinality($3::text[]) = 0 OR EXISTS (
		SELECT 1 FROM jsonb_array_elements_text(r.topics) AS t(topic)
		WHERE lower(t.topic) = ANY($3)
  ))
  AND (cardinality($4::text[]) = 0 OR EXISTS (
		SELECT 1 FROM jsonb_array_elements_text(r.actors) AS a(actor)
		WHERE lower(a.actor) = ANY($4)
  ))
  AND ($5::timestamptz IS NULL OR
		(CASE WHEN $7 = 'ingested' THEN r.ingested_at ELSE COALESCE(r.published_at, r.ingested_at) END) >= $5)
  AND ($6::timestamptz IS NULL OR
		(CASE WHEN $7 = 'ingested' THEN r.ingested_at ELSE COALESCE(r.published_at, r.ingested_at) END) <= $6)
  AND ($8 = '' OR r.title ILIKE $8 OR r.publisher ILIKE $8 OR r.url ILIKE $8)
ORDER BY r.ingested_at ASC, r.record_id ASC
LIMIT $9
OFFSET $10`

	rows, err := g.pool.Query(ctx, q,
		string(filter.Platform),
		states,
		lowerAll(filter.Topics),
		lowerAll(filter.Actors),
		filter.Since,
		filter.Until,
		timeField,
		searchPattern(filter.Search),
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0, 64)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return records, nil
}

// CountRecords mirrors Query for pagination totals.
func (g *Gateway) CountRecords(ctx context.Context, filter Filter) (int64, error) {
	timeField := string(filter.TimeField)
	if timeField == "" {
		timeField = string(TimeFieldPublished)
	}

	states := make([]string, 0, len(filter.States))
	for _, s := range filter.States {
		if s.Valid() {
			states = append(states, string(s))
		}
	}

	const q = `
SELECT COUNT(*)
FROM media.records r
WHERE ($1 = '' OR r.platform = $1::media.platform)
  AND (cardinality($2::text[]) = 0 OR r.enrichment_state::text = ANY($2))
  AND (cardinality($3::text[]) = 0 OR EXISTS (
		SELECT 1 FROM jsonb_array_elements_text(r.topics) AS t(topic)
		WHERE lower(t.topic) = ANY($3)
  ))
  AND (cardinality($4::text[]) = 0 OR EXISTS (
		SELECT 1 FROM jsonb_array_elements_text(r.actors) AS a(actor)
		WHERE lower(a.actor) = ANY($4)
  ))
  AND ($5::timestamptz IS NULL OR
		(CASE WHEN $7 = 'ingested' THEN r.ingested_at ELSE COALESCE(r.published_at, r.ingested_at) END) >= $5)
  AND ($6::timestamptz IS NULL OR
		(CASE WHEN $7 = 'ingested' THEN r.ingested_at ELSE COALESCE(r.published_at, r.ingested_at) END) <= $6)
  AND ($8 = '' OR r.title ILIKE $8 OR r.publisher ILIKE $8 OR r.url ILIKE $8)
`

	var total int64
	if err := g.pool.QueryRow(ctx, q,
		string(filter.Platform),
		states,
		lowerAll(filter.Topics),
		lowerAll(filter.Actors),
		filter.Since,
		filter.Until,
		timeField,
		searchPattern(filter.Search),
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return total, nil
}

// DuplicatesOf lists records whose duplicate_of points at the identity key.
func (g *Gateway) DuplicatesOf(ctx context.Context, identityKey string) ([]*Record, error) {
	q := `SELECT` + recordColumns + `
FROM media.records r
WHERE r.duplicate_of = $1
ORDER BY r.ingested_at ASC, r.record_id ASC`

	rows, err := g.pool.Query(ctx, q, identityKey)
	if err != nil {
		return nil, fmt.Errorf("query duplicates: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0, 4)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan duplicate row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duplicate rows: %w", err)
	}
	return records, nil
}

func searchPattern(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return "%" + trimmed + "%"
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
