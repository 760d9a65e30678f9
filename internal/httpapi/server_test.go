package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"horse.fit/mediawatch/internal/store"
)

type fakeRecordStore struct {
	records     []*store.Record
	total       int64
	byKey       map[string]*store.Record
	duplicates  map[string][]*store.Record
	stats       *store.Stats
	topicCounts []store.TopicCount

	queryFilter store.Filter
	countFilter store.Filter
	topicSince  *time.Time

	queryErr  error
	countErr  error
	byKeyErr  error
	dupErr    error
	statsErr  error
	topicsErr error
}

func (s *fakeRecordStore) Query(_ context.Context, filter store.Filter) ([]*store.Record, error) {
	s.queryFilter = filter
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.records, nil
}

func (s *fakeRecordStore) CountRecords(_ context.Context, filter store.Filter) (int64, error) {
	s.countFilter = filter
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.total, nil
}

func (s *fakeRecordStore) ByIdentityKey(_ context.Context, identityKey string) (*store.Record, error) {
	if s.byKeyErr != nil {
		return nil, s.byKeyErr
	}
	rec, exists := s.byKey[identityKey]
	if !exists {
		return nil, store.ErrNoRecord
	}
	return rec, nil
}

func (s *fakeRecordStore) DuplicatesOf(_ context.Context, identityKey string) ([]*store.Record, error) {
	if s.dupErr != nil {
		return nil, s.dupErr
	}
	return s.duplicates[identityKey], nil
}

func (s *fakeRecordStore) QueryStats(_ context.Context) (*store.Stats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return s.stats, nil
}

func (s *fakeRecordStore) TopicCounts(_ context.Context, since *time.Time) ([]store.TopicCount, error) {
	s.topicSince = since
	if s.topicsErr != nil {
		return nil, s.topicsErr
	}
	return s.topicCounts, nil
}

type jsendBody struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func decodeJSend(t *testing.T, rec *httptest.ResponseRecorder) jsendBody {
	t.Helper()
	var body jsendBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return body
}

func getRequest(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func apiRecord(key string, platform store.Platform, state store.EnrichmentState) *store.Record {
	published := time.Date(2026, 8, 18, 9, 0, 0, 0, time.UTC)
	return &store.Record{
		IdentityKey:     key,
		ContentKey:      "content-" + key,
		Platform:        platform,
		SourceType:      platform.SourceType(),
		Publisher:       "Detik",
		URL:             "https://news.detik.com/" + key,
		Title:           "Artikel " + key,
		Summary:         "Ringkasan " + key,
		PublishedAt:     &published,
		IngestedAt:      time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC),
		EnrichmentState: state,
		Tags: store.Tags{
			Topics:   []string{"banjir jakarta"},
			Actors:   []string{"BNPB"},
			Language: "id",
		},
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	server := &Server{store: &fakeRecordStore{}, logger: zerolog.Nop()}
	c, rec := getRequest("/api/v1/health")

	if err := server.handleHealth(c); err != nil {
		t.Fatalf("handleHealth returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	body := decodeJSend(t, rec)
	if body.Status != "success" {
		t.Fatalf("unexpected jsend status: %q", body.Status)
	}
	if body.Data["service"] != "mediawatch" {
		t.Fatalf("unexpected service name: %#v", body.Data["service"])
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	fake := &fakeRecordStore{
		stats: &store.Stats{
			Records:         42,
			ByState:         map[string]int64{"pending": 10, "enriched": 32},
			CrossDuplicates: 3,
		},
	}
	server := &Server{store: fake, logger: zerolog.Nop()}
	c, rec := getRequest("/api/v1/stats")

	if err := server.handleStats(c); err != nil {
		t.Fatalf("handleStats returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	body := decodeJSend(t, rec)
	if body.Data["records"] != float64(42) {
		t.Fatalf("unexpected record count: %#v", body.Data["records"])
	}
	if body.Data["cross_duplicates"] != float64(3) {
		t.Fatalf("unexpected duplicate count: %#v", body.Data["cross_duplicates"])
	}
}

func TestHandleRecords_MapsFiltersAndPagination(t *testing.T) {
	t.Parallel()

	fake := &fakeRecordStore{
		records: []*store.Record{
			apiRecord("id-1", store.PlatformRSS, store.StateEnriched),
			apiRecord("id-2", store.PlatformRSS, store.StateEnriched),
		},
		total: 7,
	}
	server := &Server{store: fake, logger: zerolog.Nop()}
	c, rec := getRequest("/api/v1/records?platform=RSS&state=enriched&topic=Banjir%20Jakarta&actor=BNPB&q=detik&from=2026-08-01&to=2026-08-20&page=2&page_size=5")

	if err := server.handleRecords(c); err != nil {
		t.Fatalf("handleRecords returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	filter := fake.queryFilter
	if filter.Platform != store.PlatformRSS {
		t.Fatalf("unexpected platform filter: %q", filter.Platform)
	}
	if len(filter.States) != 1 || filter.States[0] != store.StateEnriched {
		t.Fatalf("unexpected state filter: %#v", filter.States)
	}
	if len(filter.Topics) != 1 || filter.Topics[0] != "banjir jakarta" {
		t.Fatalf("unexpected topic filter: %#v", filter.Topics)
	}
	if len(filter.Actors) != 1 || filter.Actors[0] != "BNPB" {
		t.Fatalf("unexpected actor filter: %#v", filter.Actors)
	}
	if filter.Search != "detik" {
		t.Fatalf("unexpected search filter: %q", filter.Search)
	}
	if filter.Limit != 5 || filter.Offset != 5 {
		t.Fatalf("unexpected pagination: limit %d offset %d", filter.Limit, filter.Offset)
	}
	if filter.Since == nil || !filter.Since.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected since bound: %v", filter.Since)
	}
	if filter.Until == nil || filter.Until.Before(time.Date(2026, 8, 20, 23, 59, 0, 0, time.UTC)) {
		t.Fatalf("expected end-of-day until bound, got %v", filter.Until)
	}
	if fake.countFilter.Search != "detik" {
		t.Fatalf("count filter diverged from query filter: %#v", fake.countFilter)
	}

	body := decodeJSend(t, rec)
	items, ok := body.Data["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("unexpected items payload: %#v", body.Data["items"])
	}
	first, ok := items[0].(map[string]any)
	if !ok || first["identity_key"] != "id-1" {
		t.Fatalf("unexpected first item: %#v", items[0])
	}
	pagination, ok := body.Data["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("missing pagination: %#v", body.Data)
	}
	if pagination["total_items"] != float64(7) {
		t.Fatalf("unexpected total_items: %#v", pagination["total_items"])
	}
	if pagination["total_pages"] != float64(2) {
		t.Fatalf("unexpected total_pages: %#v", pagination["total_pages"])
	}
}

func TestHandleRecords_RejectsUnknownPlatform(t *testing.T) {
	t.Parallel()

	server := &Server{store: &fakeRecordStore{}, logger: zerolog.Nop()}
	c, rec := getRequest("/api/v1/records?platform=usenet")

	if err := server.handleRecords(c); err != nil {
		t.Fatalf("handleRecords returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}

	body := decodeJSend(t, rec)
	if body.Status != "fail" {
		t.Fatalf("unexpected jsend status: %q", body.Status)
	}
	fieldErrors, ok := body.Data["validation_errors"].(map[string]any)
	if !ok || fieldErrors["platform"] == nil {
		t.Fatalf("expected platform validation error, got %#v", body.Data)
	}
}

func TestHandleRecords_RejectsInvertedTimeRange(t *testing.T) {
	t.Parallel()

	server := &Server{store: &fakeRecordStore{}, logger: zerolog.Nop()}
	c, rec := getRequest("/api/v1/records?from=2026-08-20&to=2026-08-01")

	if err := server.handleRecords(c); err != nil {
		t.Fatalf("handleRecords returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleRecords_StoreFailureReturnsInternalError(t *testing.T) {
	t.Parallel()

	fake := &fakeRecordStore{countErr: context.DeadlineExceeded}
	server := &Server{store: fake, logger: zerolog.Nop()}
	c, rec := getRequest("/api/v1/records")

	if err := server.handleRecords(c); err != nil {
		t.Fatalf("handleRecords returned error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusInternalServerError)
	}

	body := decodeJSend(t, rec)
	if body.Status != "error" {
		t.Fatalf("unexpected jsend status: %q", body.Status)
	}
}

func TestHandleRecordDetail_ReturnsRecordWithDuplicates(t *testing.T) {
	t.Parallel()

	canonical := apiRecord("id-1", store.PlatformRSS, store.StateEnriched)
	duplicate := apiRecord("id-9", store.PlatformGDELT, store.StatePending)
	duplicate.DuplicateOf = "id-1"

	fake := &fakeRecordStore{
		byKey:      map[string]*store.Record{"id-1": canonical},
		duplicates: map[string][]*store.Record{"id-1": {duplicate}},
	}
	server := &Server{store: fake, logger: zerolog.Nop()}

	c, rec := getRequest("/api/v1/records/id-1")
	c.SetParamNames("identity_key")
	c.SetParamValues("id-1")

	if err := server.handleRecordDetail(c); err != nil {
		t.Fatalf("handleRecordDetail returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	body := decodeJSend(t, rec)
	if body.Data["identity_key"] != "id-1" {
		t.Fatalf("unexpected identity key: %#v", body.Data["identity_key"])
	}
	tags, ok := body.Data["tags"].(map[string]any)
	if !ok {
		t.Fatalf("missing tags payload: %#v", body.Data)
	}
	topics, ok := tags["topics"].([]any)
	if !ok || len(topics) != 1 || topics[0] != "banjir jakarta" {
		t.Fatalf("unexpected topics: %#v", tags["topics"])
	}
	dups, ok := body.Data["duplicates"].([]any)
	if !ok || len(dups) != 1 {
		t.Fatalf("unexpected duplicates payload: %#v", body.Data["duplicates"])
	}
	dup, ok := dups[0].(map[string]any)
	if !ok || dup["identity_key"] != "id-9" || dup["duplicate_of"] != "id-1" {
		t.Fatalf("unexpected duplicate item: %#v", dups[0])
	}
}

func TestHandleRecordDetail_MissingRecordReturnsNotFound(t *testing.T) {
	t.Parallel()

	fake := &fakeRecordStore{byKey: map[string]*store.Record{}}
	server := &Server{store: fake, logger: zerolog.Nop()}

	c, rec := getRequest("/api/v1/records/ghost")
	c.SetParamNames("identity_key")
	c.SetParamValues("ghost")

	if err := server.handleRecordDetail(c); err != nil {
		t.Fatalf("handleRecordDetail returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusNotFound)
	}

	body := decodeJSend(t, rec)
	if body.Status != "fail" || body.Message != "Record not found" {
		t.Fatalf("unexpected jsend envelope: %+v", body)
	}
}

func TestHandleTopics_AppliesDayWindow(t *testing.T) {
	t.Parallel()

	fake := &fakeRecordStore{
		topicCounts: []store.TopicCount{
			{Topic: "banjir jakarta", Count: 12},
			{Topic: "pemilu", Count: 4},
		},
	}
	server := &Server{store: fake, logger: zerolog.Nop()}
	c, rec := getRequest("/api/v1/topics?days=30")

	if err := server.handleTopics(c); err != nil {
		t.Fatalf("handleTopics returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	if fake.topicSince == nil {
		t.Fatalf("expected a since bound to reach the store")
	}
	wantSince := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if diff := fake.topicSince.Sub(wantSince); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("since bound off by %v", diff)
	}

	body := decodeJSend(t, rec)
	if body.Data["days"] != float64(30) {
		t.Fatalf("unexpected days echo: %#v", body.Data["days"])
	}
	items, ok := body.Data["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("unexpected items payload: %#v", body.Data["items"])
	}
	first, ok := items[0].(map[string]any)
	if !ok || first["topic"] != "banjir jakarta" || first["count"] != float64(12) {
		t.Fatalf("unexpected first topic: %#v", items[0])
	}
}

func TestParseTimeFilter(t *testing.T) {
	t.Parallel()

	if got, err := parseTimeFilter("", false); err != nil || got != nil {
		t.Fatalf("empty input should pass through: %v %v", got, err)
	}

	got, err := parseTimeFilter("2026-08-18T09:30:00+07:00", false)
	if err != nil {
		t.Fatalf("parse RFC3339: %v", err)
	}
	if want := time.Date(2026, 8, 18, 2, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("unexpected RFC3339 result: got %v want %v", got, want)
	}

	got, err = parseTimeFilter("2026-08-18", true)
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	if want := time.Date(2026, 8, 18, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC); !got.Equal(want) {
		t.Fatalf("unexpected end-of-day result: got %v want %v", got, want)
	}

	if _, err := parseTimeFilter("18/08/2026", false); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}
}
