package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestStartIngestRun_ReturnsUUID(t *testing.T) {
	t.Parallel()

	gw, mock := newMockGateway(t)
	mock.ExpectExec("INSERT INTO media.ingest_runs").
		WithArgs(sqlmock.AnyArg(), "gdelt,rss", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	runUUID, err := gw.StartIngestRun(context.Background(), []string{"gdelt", "rss"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(runUUID); err != nil {
		t.Fatalf("expected a parseable run uuid, got %q", runUUID)
	}
	expectationsMet(t, mock)
}

func TestFinishIngestRun_Succeeded(t *testing.T) {
	t.Parallel()

	gw, mock := newMockGateway(t)
	mock.ExpectExec("UPDATE media.ingest_runs").
		WithArgs("run-1", sqlmock.AnyArg(), "succeeded", 7, 6, 5, 4, 3, 2, 1, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := gw.FinishIngestRun(context.Background(), "run-1", RunCounters{
		Fetched:               7,
		Normalized:            6,
		Inserted:              5,
		Updated:               4,
		Duplicates:            3,
		NormalizationFailures: 2,
		SourceFailures:        1,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestFinishIngestRun_RecordsFailure(t *testing.T) {
	t.Parallel()

	gw, mock := newMockGateway(t)
	mock.ExpectExec("UPDATE media.ingest_runs").
		WithArgs("run-1", sqlmock.AnyArg(), "failed", 0, 0, 0, 0, 0, 0, 2, "gdelt: source unavailable").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := gw.FinishIngestRun(context.Background(), "run-1",
		RunCounters{SourceFailures: 2}, errors.New("gdelt: source unavailable"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestFinishIngestRun_MissingRun(t *testing.T) {
	t.Parallel()

	gw, mock := newMockGateway(t)
	mock.ExpectExec("UPDATE media.ingest_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := gw.FinishIngestRun(context.Background(), "run-9", RunCounters{}, nil)
	if !errors.Is(err, ErrNoRecord) {
		t.Fatalf("expected ErrNoRecord, got %v", err)
	}
	expectationsMet(t, mock)
}
