package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"horse.fit/mediawatch/internal/store"
)

var ErrMissingRequiredField = errors.New("missing required field")

// NormalizationError reports a payload that cannot produce a canonical
// record. Only an undeterminable URL or platform is fatal for a payload;
// every optional field degrades to empty instead.
type NormalizationError struct {
	Platform store.Platform
	Field    string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s payload: field %q: missing required field", e.Platform, e.Field)
}

func (e *NormalizationError) Unwrap() error { return ErrMissingRequiredField }

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// cleanText flattens source markup into plain prose: entities unescaped,
// tags and bare URLs removed, whitespace collapsed.
func cleanText(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	out := html.UnescapeString(input)
	out = htmlTagPattern.ReplaceAllString(out, " ")
	out = urlPattern.ReplaceAllString(out, " ")
	out = whitespacePattern.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// Normalize maps one platform payload into the canonical record shape. Pure
// and idempotent: identical input yields an identical record, and the raw
// payload rides along verbatim for provenance. The record is returned
// without fingerprint keys or an ingestion timestamp; the ingest service
// stamps those.
func Normalize(rawPayload []byte, platform store.Platform) (*store.Record, error) {
	if !platform.Valid() {
		return nil, &NormalizationError{Platform: platform, Field: "platform"}
	}

	var (
		rec *store.Record
		err error
	)
	switch platform {
	case store.PlatformGDELT:
		rec, err = normalizeGDELT(rawPayload)
	case store.PlatformAggregator:
		rec, err = normalizeAggregator(rawPayload)
	case store.PlatformRSS:
		rec, err = normalizeRSS(rawPayload)
	case store.PlatformSocialFeed:
		rec, err = normalizeSocialFeed(rawPayload)
	}
	if err != nil {
		return nil, err
	}

	rec.Platform = platform
	rec.SourceType = platform.SourceType()
	rec.Publisher = strings.TrimSpace(rec.Publisher)
	rec.URL = strings.TrimSpace(rec.URL)
	rec.Title = cleanText(rec.Title)
	rec.Summary = cleanText(rec.Summary)
	rec.RawPayload = append(json.RawMessage(nil), rawPayload...)
	rec.EnrichmentState = store.StatePending

	if rec.URL == "" {
		return nil, &NormalizationError{Platform: platform, Field: "url"}
	}
	return rec, nil
}

type gdeltArticle struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	SeenDate string `json:"seendate"`
	Domain   string `json:"domain"`
	Language string `json:"language"`
}

func normalizeGDELT(raw []byte) (*store.Record, error) {
	var article gdeltArticle
	if err := json.Unmarshal(raw, &article); err != nil {
		return nil, &NormalizationError{Platform: store.PlatformGDELT, Field: "payload"}
	}

	return &store.Record{
		Publisher:   publisherFromDomain(article.Domain),
		URL:         article.URL,
		Title:       article.Title,
		PublishedAt: parseGDELTTime(article.SeenDate),
	}, nil
}

type aggregatorItem struct {
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
}

func normalizeAggregator(raw []byte) (*store.Record, error) {
	var item aggregatorItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, &NormalizationError{Platform: store.PlatformAggregator, Field: "payload"}
	}

	publisher := strings.TrimSpace(item.Source)
	if publisher == "" {
		publisher = strings.TrimSpace(item.Author)
	}

	return &store.Record{
		Publisher:   publisher,
		URL:         item.URL,
		Title:       item.Title,
		Summary:     item.Description,
		PublishedAt: parseFlexibleTime(item.PublishedAt),
	}, nil
}

type rssItem struct {
	FeedName        string `json:"feed_name"`
	Title           string `json:"title"`
	Link            string `json:"link"`
	Description     string `json:"description"`
	Content         string `json:"content"`
	Author          string `json:"author"`
	Published       string `json:"published"`
	PublishedParsed string `json:"published_parsed"`
}

func normalizeRSS(raw []byte) (*store.Record, error) {
	var item rssItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, &NormalizationError{Platform: store.PlatformRSS, Field: "payload"}
	}

	publisher := strings.TrimSpace(item.FeedName)
	if publisher == "" {
		publisher = strings.TrimSpace(item.Author)
	}

	summary := item.Description
	if strings.TrimSpace(summary) == "" {
		summary = item.Content
	}

	published := parseFlexibleTime(item.PublishedParsed)
	if published == nil {
		published = parseFlexibleTime(item.Published)
	}

	return &store.Record{
		Publisher:   publisher,
		URL:         item.Link,
		Title:       item.Title,
		Summary:     summary,
		PublishedAt: published,
	}, nil
}

type socialFeedItem struct {
	VideoID      string `json:"video_id"`
	ChannelName  string `json:"channel_name"`
	ChannelTitle string `json:"channel_title"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	PublishedAt  string `json:"published_at"`
	URL          string `json:"url"`
}

func normalizeSocialFeed(raw []byte) (*store.Record, error) {
	var item socialFeedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, &NormalizationError{Platform: store.PlatformSocialFeed, Field: "payload"}
	}

	publisher := strings.TrimSpace(item.ChannelTitle)
	if publisher == "" {
		publisher = strings.TrimSpace(item.ChannelName)
	}

	itemURL := strings.TrimSpace(item.URL)
	if itemURL == "" && strings.TrimSpace(item.VideoID) != "" {
		itemURL = "https://www.youtube.com/watch?v=" + strings.TrimSpace(item.VideoID)
	}

	return &store.Record{
		Publisher:   publisher,
		URL:         itemURL,
		Title:       item.Title,
		Summary:     item.Description,
		PublishedAt: parseFlexibleTime(item.PublishedAt),
	}, nil
}

var publisherDomains = map[string]string{
	"kompas.com":         "Kompas",
	"kompas.tv":          "Kompas TV",
	"tempo.co":           "Tempo",
	"antaranews.com":     "Antara",
	"detik.com":          "Detik",
	"cnnindonesia.com":   "CNN Indonesia",
	"cnbcindonesia.com":  "CNBC Indonesia",
	"liputan6.com":       "Liputan6",
	"tribunnews.com":     "Tribunnews",
	"republika.co.id":    "Republika",
	"okezone.com":        "Okezone",
	"sindonews.com":      "Sindonews",
	"suara.com":          "Suara",
	"merdeka.com":        "Merdeka",
	"kumparan.com":       "Kumparan",
	"tirto.id":           "Tirto",
	"thejakartapost.com": "The Jakarta Post",
	"jawapos.com":        "Jawa Pos",
	"bisnis.com":         "Bisnis Indonesia",
	"viva.co.id":         "Viva",
}

// publisherFromDomain maps a source domain to a display publisher, falling
// back to the bare domain when unknown.
func publisherFromDomain(domain string) string {
	normalized := strings.ToLower(strings.TrimSpace(domain))
	normalized = strings.TrimPrefix(normalized, "www.")
	if normalized == "" {
		return ""
	}

	if name, ok := publisherDomains[normalized]; ok {
		return name
	}
	for suffix, name := range publisherDomains {
		if strings.HasSuffix(normalized, "."+suffix) {
			return name
		}
	}
	return normalized
}

// parseGDELTTime parses the compact GDELT seendate stamp.
func parseGDELTTime(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	ts, err := time.Parse("20060102T150405Z", trimmed)
	if err != nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

var flexibleTimeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02",
}

// parseFlexibleTime tries the timestamp layouts seen across feeds. A stamp
// that matches nothing yields nil; publish times are never invented.
func parseFlexibleTime(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	for _, layout := range flexibleTimeLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}
