package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"horse.fit/mediawatch/internal/globaltime"
)

// RunCounters is the per-stage outcome of one ingestion cycle. Partial
// success is the normal shape: failures are counted, not fatal.
type RunCounters struct {
	Fetched               int
	Normalized            int
	Inserted              int
	Updated               int
	Duplicates            int
	NormalizationFailures int
	SourceFailures        int
}

// StartIngestRun opens a run row and returns its UUID for log correlation.
func (g *Gateway) StartIngestRun(ctx context.Context, scope []string) (string, error) {
	runUUID := uuid.NewString()

	const q = `
INSERT INTO media.ingest_runs (run_uuid, scope, started_at, status)
VALUES ($1, $2, $3, 'running')
`

	if _, err := g.pool.Exec(ctx, q, runUUID, strings.Join(scope, ","), globaltime.UTC()); err != nil {
		return "", fmt.Errorf("start ingest run: %w", err)
	}
	return runUUID, nil
}

// FinishIngestRun closes the run row with counters and a terminal status.
func (g *Gateway) FinishIngestRun(ctx context.Context, runUUID string, counters RunCounters, runErr error) error {
	status := "succeeded"
	var errorMessage *string
	if runErr != nil {
		status = "failed"
		msg := runErr.Error()
		errorMessage = &msg
	}

	const q = `
UPDATE media.ingest_runs SET
	finished_at = $2,
	status = $3::media.ingest_run_status,
	fetched = $4,
	normalized = $5,
	inserted = $6,
	updated = $7,
	duplicates = $8,
	normalization_failures = $9,
	source_failures = $10,
	error_message = $11,
	updated_at = now()
WHERE run_uuid = $1
`

	tag, err := g.pool.Exec(ctx, q,
		runUUID,
		globaltime.UTC(),
		status,
		counters.Fetched,
		counters.Normalized,
		counters.Inserted,
		counters.Updated,
		counters.Duplicates,
		counters.NormalizationFailures,
		counters.SourceFailures,
		errorMessage,
	)
	if err != nil {
		return fmt.Errorf("finish ingest run %s: %w", runUUID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish ingest run %s: %w", runUUID, ErrNoRecord)
	}
	return nil
}
