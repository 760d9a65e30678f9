// Package httpapi serves the read-only monitoring API over the record store.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/mediawatch/internal/globaltime"
	"horse.fit/mediawatch/internal/store"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200

	defaultTopicWindowDays = 7
	maxTopicWindowDays     = 365
)

// Store is the slice of the record gateway the API reads from.
type Store interface {
	Query(ctx context.Context, filter store.Filter) ([]*store.Record, error)
	CountRecords(ctx context.Context, filter store.Filter) (int64, error)
	ByIdentityKey(ctx context.Context, identityKey string) (*store.Record, error)
	DuplicatesOf(ctx context.Context, identityKey string) ([]*store.Record, error)
	QueryStats(ctx context.Context) (*store.Stats, error)
	TopicCounts(ctx context.Context, since *time.Time) ([]store.TopicCount, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	store  Store
	logger zerolog.Logger
	opts   Options
}

type recordFilter struct {
	Platform  string
	State     string
	Topic     string
	Actor     string
	Query     string
	TimeField string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

type recordListItem struct {
	IdentityKey     string     `json:"identity_key"`
	Platform        string     `json:"platform"`
	SourceType      string     `json:"source_type"`
	Publisher       string     `json:"publisher"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	IngestedAt      time.Time  `json:"ingested_at"`
	EnrichmentState string     `json:"enrichment_state"`
	Topics          []string   `json:"topics,omitempty"`
	DuplicateOf     string     `json:"duplicate_of,omitempty"`
}

type recordDetail struct {
	IdentityKey        string           `json:"identity_key"`
	ContentKey         string           `json:"content_key"`
	Platform           string           `json:"platform"`
	SourceType         string           `json:"source_type"`
	Publisher          string           `json:"publisher"`
	URL                string           `json:"url"`
	CanonicalURL       string           `json:"canonical_url,omitempty"`
	Title              string           `json:"title"`
	Summary            string           `json:"summary,omitempty"`
	FullText           string           `json:"full_text,omitempty"`
	PublishedAt        *time.Time       `json:"published_at,omitempty"`
	IngestedAt         time.Time        `json:"ingested_at"`
	DuplicateOf        string           `json:"duplicate_of,omitempty"`
	EnrichmentState    string           `json:"enrichment_state"`
	EnrichmentAttempts int              `json:"enrichment_attempts"`
	EnrichedAt         *time.Time       `json:"enriched_at,omitempty"`
	Tags               store.Tags       `json:"tags"`
	Duplicates         []recordListItem `json:"duplicates"`
}

func NewServer(st Store, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		store:  st,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/records", s.handleRecords)
	api.GET("/records/:identity_key", s.handleRecordDetail)
	api.GET("/topics", s.handleTopics)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("media api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("media api server stopped")
	return nil
}

// The service only serves the JSON API, so every error leaves as a jsend
// envelope, including router-level 404s.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "mediawatch",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.QueryStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleRecords(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}

	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	from, err := parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	to, err := parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}
	if from != nil && to != nil && from.After(*to) {
		return failValidation(c, map[string]string{"time_range": "from must be <= to"})
	}

	platform := normalizeParam(c.QueryParam("platform"))
	if platform != "" && !store.Platform(platform).Valid() {
		return failValidation(c, map[string]string{"platform": "must be one of gdelt, aggregator, rss, social_feed"})
	}

	state := normalizeParam(c.QueryParam("state"))
	if state != "" && !store.EnrichmentState(state).Valid() {
		return failValidation(c, map[string]string{"state": "must be one of pending, enriched, enriched_fallback, enrichment_failed"})
	}

	timeField := normalizeParam(c.QueryParam("time_field"))
	switch timeField {
	case "", string(store.TimeFieldPublished), string(store.TimeFieldIngested):
	default:
		return failValidation(c, map[string]string{"time_field": "must be published or ingested"})
	}

	filter := recordFilter{
		Platform:  platform,
		State:     state,
		Topic:     normalizeParam(c.QueryParam("topic")),
		Actor:     strings.TrimSpace(c.QueryParam("actor")),
		Query:     strings.TrimSpace(c.QueryParam("q")),
		TimeField: timeField,
		From:      from,
		To:        to,
		Page:      page,
		PageSize:  pageSize,
	}

	storeFilter := store.Filter{
		Since:     filter.From,
		Until:     filter.To,
		TimeField: store.TimeField(filter.TimeField),
		Platform:  store.Platform(filter.Platform),
		Search:    filter.Query,
		Limit:     filter.PageSize,
		Offset:    (filter.Page - 1) * filter.PageSize,
	}
	if filter.State != "" {
		storeFilter.States = []store.EnrichmentState{store.EnrichmentState(filter.State)}
	}
	if filter.Topic != "" {
		storeFilter.Topics = []string{filter.Topic}
	}
	if filter.Actor != "" {
		storeFilter.Actors = []string{filter.Actor}
	}

	ctx := c.Request().Context()
	total, err := s.store.CountRecords(ctx, storeFilter)
	if err != nil {
		s.logger.Error().Err(err).Msg("count records failed")
		return internalError(c, "Failed to load records")
	}
	records, err := s.store.Query(ctx, storeFilter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query records failed")
		return internalError(c, "Failed to load records")
	}

	items := make([]recordListItem, 0, len(records))
	for _, rec := range records {
		items = append(items, toRecordListItem(rec))
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":        page,
			"page_size":   pageSize,
			"total_items": total,
			"total_pages": totalPages,
		},
		"filters": map[string]any{
			"platform":   filter.Platform,
			"state":      filter.State,
			"topic":      filter.Topic,
			"actor":      filter.Actor,
			"q":          filter.Query,
			"time_field": filter.TimeField,
			"from":       filter.From,
			"to":         filter.To,
		},
	})
}

func (s *Server) handleRecordDetail(c echo.Context) error {
	identityKey := strings.TrimSpace(c.Param("identity_key"))
	if identityKey == "" {
		return failValidation(c, map[string]string{"identity_key": "is required"})
	}

	ctx := c.Request().Context()
	rec, err := s.store.ByIdentityKey(ctx, identityKey)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return failNotFound(c, "Record not found")
		}
		s.logger.Error().Err(err).Str("identity_key", identityKey).Msg("query record detail failed")
		return internalError(c, "Failed to load record")
	}

	duplicates, err := s.store.DuplicatesOf(ctx, identityKey)
	if err != nil {
		s.logger.Error().Err(err).Str("identity_key", identityKey).Msg("query duplicates failed")
		return internalError(c, "Failed to load record")
	}

	detail := toRecordDetail(rec)
	detail.Duplicates = make([]recordListItem, 0, len(duplicates))
	for _, dup := range duplicates {
		detail.Duplicates = append(detail.Duplicates, toRecordListItem(dup))
	}

	return success(c, detail)
}

func (s *Server) handleTopics(c echo.Context) error {
	days, err := parsePositiveInt(c.QueryParam("days"), defaultTopicWindowDays, 1, maxTopicWindowDays)
	if err != nil {
		return failValidation(c, map[string]string{"days": err.Error()})
	}

	since := globaltime.UTC().Add(-time.Duration(days) * 24 * time.Hour)
	items, err := s.store.TopicCounts(c.Request().Context(), &since)
	if err != nil {
		s.logger.Error().Err(err).Msg("query topic counts failed")
		return internalError(c, "Failed to load topic counts")
	}

	return success(c, map[string]any{
		"items": items,
		"days":  days,
		"since": since,
	})
}

func toRecordListItem(rec *store.Record) recordListItem {
	return recordListItem{
		IdentityKey:     rec.IdentityKey,
		Platform:        string(rec.Platform),
		SourceType:      string(rec.SourceType),
		Publisher:       rec.Publisher,
		URL:             rec.URL,
		Title:           rec.Title,
		PublishedAt:     rec.PublishedAt,
		IngestedAt:      rec.IngestedAt,
		EnrichmentState: string(rec.EnrichmentState),
		Topics:          rec.Tags.Topics,
		DuplicateOf:     rec.DuplicateOf,
	}
}

func toRecordDetail(rec *store.Record) recordDetail {
	return recordDetail{
		IdentityKey:        rec.IdentityKey,
		ContentKey:         rec.ContentKey,
		Platform:           string(rec.Platform),
		SourceType:         string(rec.SourceType),
		Publisher:          rec.Publisher,
		URL:                rec.URL,
		CanonicalURL:       rec.CanonicalURL,
		Title:              rec.Title,
		Summary:            rec.Summary,
		FullText:           rec.FullText,
		PublishedAt:        rec.PublishedAt,
		IngestedAt:         rec.IngestedAt,
		DuplicateOf:        rec.DuplicateOf,
		EnrichmentState:    string(rec.EnrichmentState),
		EnrichmentAttempts: rec.EnrichmentAttempts,
		EnrichedAt:         rec.EnrichedAt,
		Tags:               rec.Tags,
	}
}

func normalizeParam(raw string) string {
	return strings.TrimSpace(strings.ToLower(raw))
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}

	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		if endOfDay {
			utc = utc.Add((24 * time.Hour) - time.Nanosecond)
		}
		return &utc, nil
	}

	return nil, fmt.Errorf("invalid time format")
}
