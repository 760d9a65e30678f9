package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/store"
)

// GDELT pulls article lists from the GDELT DOC 2.0 API.
type GDELT struct {
	cfg    config.GDELTSource
	client *http.Client
}

func NewGDELT(cfg config.GDELTSource) *GDELT {
	return &GDELT{cfg: cfg, client: newHTTPClient()}
}

func (g *GDELT) Name() string             { return "gdelt" }
func (g *GDELT) Platform() store.Platform { return store.PlatformGDELT }

func (g *GDELT) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("query", wrapORTerms(g.cfg.Query))
	params.Set("mode", "artlist")
	params.Set("format", "json")
	params.Set("maxrecords", strconv.Itoa(g.cfg.MaxRecords))
	if g.cfg.SourceLang != "" {
		params.Set("sourcelang", g.cfg.SourceLang)
	}
	if g.cfg.Timespan != "" {
		params.Set("timespan", g.cfg.Timespan)
	}

	body, contentType, err := fetchBody(ctx, g.client, g.cfg.BaseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("gdelt: %w", err)
	}
	// Error pages come back as HTML with status 200.
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return nil, fmt.Errorf("gdelt: %w: non-JSON response (%s)", ErrUnavailable, contentType)
	}

	var payload struct {
		Articles []json.RawMessage `json:"articles"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("gdelt: %w: decode response: %v", ErrUnavailable, err)
	}
	return payload.Articles, nil
}

// wrapORTerms parenthesizes OR'd terms; the document API rejects a bare OR
// list. Queries that already carry parentheses pass through untouched.
func wrapORTerms(query string) string {
	q := strings.TrimSpace(query)
	if strings.Contains(q, " OR ") && !strings.Contains(q, "(") {
		return "(" + q + ")"
	}
	return q
}
