package store

import (
	"context"
	"fmt"
	"time"
)

type PlatformCount struct {
	Platform Platform `json:"platform"`
	Count    int64    `json:"count"`
}

type PublisherCount struct {
	Publisher string `json:"publisher"`
	Count     int64  `json:"count"`
}

type TopicCount struct {
	Topic string `json:"topic"`
	Count int64  `json:"count"`
}

// Stats is the operational snapshot served by the read API.
type Stats struct {
	Records         int64            `json:"records"`
	ByState         map[string]int64 `json:"by_state"`
	CrossDuplicates int64            `json:"cross_duplicates"`
	RunningRuns     int64            `json:"running_ingest_runs"`
	LastIngestedAt  *time.Time       `json:"last_ingested_at,omitempty"`
	LastEnrichedAt  *time.Time       `json:"last_enriched_at,omitempty"`
}

// CountByPlatform buckets records ingested since the cutoff by platform.
func (g *Gateway) CountByPlatform(ctx context.Context, since *time.Time) ([]PlatformCount, error) {
	const q = `
SELECT r.platform::text, COUNT(*)::bigint
FROM media.records r
WHERE ($1::timestamptz IS NULL OR r.ingested_at >= $1)
GROUP BY r.platform
ORDER BY 2 DESC, 1 ASC
`

	rows, err := g.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("query platform counts: %w", err)
	}
	defer rows.Close()

	counts := make([]PlatformCount, 0, 4)
	for rows.Next() {
		var (
			platform string
			count    int64
		)
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, fmt.Errorf("scan platform count: %w", err)
		}
		counts = append(counts, PlatformCount{Platform: Platform(platform), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate platform counts: %w", err)
	}
	return counts, nil
}

// TopPublishers returns the most frequent non-empty publishers since the cutoff.
func (g *Gateway) TopPublishers(ctx context.Context, since *time.Time, limit int) ([]PublisherCount, error) {
	if limit <= 0 {
		limit = 10
	}

	const q = `
SELECT r.publisher, COUNT(*)::bigint
FROM media.records r
WHERE r.publisher <> ''
  AND ($1::timestamptz IS NULL OR r.ingested_at >= $1)
GROUP BY r.publisher
ORDER BY 2 DESC, 1 ASC
LIMIT $2
`

	rows, err := g.pool.Query(ctx, q, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query top publishers: %w", err)
	}
	defer rows.Close()

	counts := make([]PublisherCount, 0, limit)
	for rows.Next() {
		var row PublisherCount
		if err := rows.Scan(&row.Publisher, &row.Count); err != nil {
			return nil, fmt.Errorf("scan publisher count: %w", err)
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publisher counts: %w", err)
	}
	return counts, nil
}

// TopicCounts buckets enriched records by each topic they carry.
func (g *Gateway) TopicCounts(ctx context.Context, since *time.Time) ([]TopicCount, error) {
	const q = `
SELECT t.topic, COUNT(*)::bigint
FROM media.records r,
	jsonb_array_elements_text(r.topics) AS t(topic)
WHERE r.enrichment_state IN ('enriched', 'enriched_fallback')
  AND ($1::timestamptz IS NULL OR r.ingested_at >= $1)
GROUP BY t.topic
ORDER BY 2 DESC, 1 ASC
`

	rows, err := g.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("query topic counts: %w", err)
	}
	defer rows.Close()

	counts := make([]TopicCount, 0, 16)
	for rows.Next() {
		var row TopicCount
		if err := rows.Scan(&row.Topic, &row.Count); err != nil {
			return nil, fmt.Errorf("scan topic count: %w", err)
		}
		counts = append(counts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic counts: %w", err)
	}
	return counts, nil
}

// QueryStats assembles the operational snapshot in one round trip per shape.
func (g *Gateway) QueryStats(ctx context.Context) (*Stats, error) {
	const q = `
SELECT
	(SELECT COUNT(*) FROM media.records) AS records,
	(SELECT COUNT(*) FROM media.records WHERE duplicate_of IS NOT NULL) AS cross_duplicates,
	(SELECT COUNT(*) FROM media.ingest_runs WHERE status = 'running') AS running_runs,
	(SELECT MAX(ingested_at) FROM media.records) AS last_ingested_at,
	(SELECT MAX(enriched_at) FROM media.records) AS last_enriched_at
`

	stats := &Stats{ByState: map[string]int64{}}
	if err := g.pool.QueryRow(ctx, q).Scan(
		&stats.Records,
		&stats.CrossDuplicates,
		&stats.RunningRuns,
		&stats.LastIngestedAt,
		&stats.LastEnrichedAt,
	); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	const stateQuery = `
SELECT enrichment_state::text, COUNT(*)::bigint
FROM media.records
GROUP BY enrichment_state
ORDER BY enrichment_state
`
	rows, err := g.pool.Query(ctx, stateQuery)
	if err != nil {
		return nil, fmt.Errorf("query state counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			state string
			count int64
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		stats.ByState[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}

	return stats, nil
}
