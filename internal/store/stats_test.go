package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestQueryStats_AssemblesSnapshot(t *testing.T) {
	t.Parallel()

	gw, mock := newMockGateway(t)
	lastIngested := time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("AS records").
		WillReturnRows(sqlmock.NewRows([]string{
			"records", "cross_duplicates", "running_runs", "last_ingested_at", "last_enriched_at",
		}).AddRow(10, 2, 1, lastIngested, nil))
	mock.ExpectQuery("GROUP BY enrichment_state").
		WillReturnRows(sqlmock.NewRows([]string{"enrichment_state", "count"}).
			AddRow("enriched", 5).
			AddRow("pending", 3))

	stats, err := gw.QueryStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Records != 10 || stats.CrossDuplicates != 2 || stats.RunningRuns != 1 {
		t.Fatalf("counters not scanned: %+v", stats)
	}
	if stats.LastIngestedAt == nil || !stats.LastIngestedAt.Equal(lastIngested) {
		t.Fatalf("last ingested at not scanned: %v", stats.LastIngestedAt)
	}
	if stats.LastEnrichedAt != nil {
		t.Fatalf("expected nil last enriched at, got %v", stats.LastEnrichedAt)
	}
	if stats.ByState["enriched"] != 5 || stats.ByState["pending"] != 3 {
		t.Fatalf("state buckets not scanned: %v", stats.ByState)
	}
	expectationsMet(t, mock)
}

func TestCountByPlatform_AllTime(t *testing.T) {
	t.Parallel()

	gw, mock := newMockGateway(t)
	mock.ExpectQuery("GROUP BY r.platform").
		WithArgs(nil).
		WillReturnRows(sqlmock.NewRows([]string{"platform", "count"}).
			AddRow("rss", 12).
			AddRow("gdelt", 7))

	counts, err := gw.CountByPlatform(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 2 || counts[0].Platform != PlatformRSS || counts[0].Count != 12 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	expectationsMet(t, mock)
}

func TestTopPublishers_DefaultsLimit(t *testing.T) {
	t.Parallel()

	gw, mock := newMockGateway(t)
	mock.ExpectQuery("GROUP BY r.publisher").
		WithArgs(nil, 10).
		WillReturnRows(sqlmock.NewRows([]string{"publisher", "count"}).
			AddRow("Detik", 9).
			AddRow("Antara", 4))

	counts, err := gw.TopPublishers(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 2 || counts[0].Publisher != "Detik" || counts[1].Count != 4 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	expectationsMet(t, mock)
}

func TestTopicCounts_AppliesCutoff(t *testing.T) {
	t.Parallel()

	gw, mock := newMockGateway(t)
	since := time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("GROUP BY t.topic").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"topic", "count"}).
			AddRow("banjir jakarta", 6))

	counts, err := gw.TopicCounts(context.Background(), &since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 1 || counts[0].Topic != "banjir jakarta" || counts[0].Count != 6 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	expectationsMet(t, mock)
}
