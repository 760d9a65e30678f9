// Package sources implements the upstream connectors the ingest run pulls
// from: the GDELT document API, a paid news aggregator, plain RSS feeds, and
// public video channel feeds.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/pipeline"
)

// ErrUnavailable marks a source that could not be reached or answered with
// something unusable. The ingest run skips the source and keeps going.
var ErrUnavailable = errors.New("source unavailable")

const (
	defaultUserAgent    = "mediawatch/1.0"
	defaultFetchTimeout = 30 * time.Second
	errorBodyPreview    = 512
)

// Keys carries the per-source API credentials from the environment.
type Keys struct {
	Aggregator string
	Channel    string
}

// FromMonitor assembles the enabled connectors in a stable order.
func FromMonitor(m *config.Monitor, keys Keys, logger zerolog.Logger) []pipeline.Source {
	var out []pipeline.Source
	if m.Sources.GDELT.Enabled {
		out = append(out, NewGDELT(m.Sources.GDELT))
	}
	if m.Sources.Aggregator.Enabled {
		out = append(out, NewAggregator(m.Sources.Aggregator, keys.Aggregator))
	}
	if m.Sources.RSS.Enabled {
		out = append(out, NewRSS(m.Sources.RSS, logger))
	}
	if m.Sources.SocialFeed.Enabled {
		out = append(out, NewSocialFeed(m.Sources.SocialFeed, keys.Channel, logger))
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultFetchTimeout}
}

// fetchBody performs a GET and returns the body and content type. Transport
// failures and non-200 statuses come back wrapped in ErrUnavailable.
func fetchBody(ctx context.Context, client *http.Client, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyPreview))
		return nil, "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(preview))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// formatFeedTime renders a parsed feed timestamp as RFC3339, empty when the
// feed carried none.
func formatFeedTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
