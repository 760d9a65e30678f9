package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/store"
)

// RSS pulls configured RSS and Atom feeds. One broken feed is logged and
// skipped; the source only counts as unavailable when every feed fails.
type RSS struct {
	feeds  map[string]string
	parser *gofeed.Parser
	logger zerolog.Logger
}

type rssPayload struct {
	FeedName        string   `json:"feed_name"`
	FeedURL         string   `json:"feed_url"`
	Title           string   `json:"title"`
	Link            string   `json:"link"`
	Description     string   `json:"description"`
	Content         string   `json:"content"`
	Author          string   `json:"author,omitempty"`
	Published       string   `json:"published,omitempty"`
	PublishedParsed string   `json:"published_parsed,omitempty"`
	GUID            string   `json:"guid,omitempty"`
	Categories      []string `json:"categories,omitempty"`
}

func NewRSS(cfg config.RSSSource, logger zerolog.Logger) *RSS {
	parser := gofeed.NewParser()
	parser.UserAgent = defaultUserAgent
	parser.Client = newHTTPClient()
	return &RSS{feeds: cfg.Feeds, parser: parser, logger: logger}
}

func (r *RSS) Name() string             { return "rss" }
func (r *RSS) Platform() store.Platform { return store.PlatformRSS }

func (r *RSS) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	names := make([]string, 0, len(r.feeds))
	for name := range r.feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out      []json.RawMessage
		failures int
		lastErr  error
	)
	for _, name := range names {
		feedURL := r.feeds[name]
		feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			failures++
			lastErr = err
			r.logger.Warn().Err(err).Str("feed", name).Msg("rss feed fetch failed")
			continue
		}

		for _, item := range feed.Items {
			payload := rssPayload{
				FeedName:        name,
				FeedURL:         feedURL,
				Title:           item.Title,
				Link:            extractLink(item),
				Description:     item.Description,
				Content:         item.Content,
				Author:          authorName(item),
				Published:       item.Published,
				PublishedParsed: formatFeedTime(item.PublishedParsed),
				GUID:            item.GUID,
				Categories:      item.Categories,
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			out = append(out, raw)
		}
	}

	if failures > 0 && failures == len(names) {
		return nil, fmt.Errorf("rss: %w: all %d feeds failed: %v", ErrUnavailable, failures, lastErr)
	}
	return out, nil
}

// extractLink prefers the entry link and falls back to a GUID that looks
// like a URL.
func extractLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	if strings.HasPrefix(item.GUID, "http") {
		return item.GUID
	}
	return ""
}

func authorName(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	return ""
}
