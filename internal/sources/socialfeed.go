package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/store"
)

const (
	channelFeedURLFormat = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"
	statsChunkSize       = 50
)

// SocialFeed pulls public video channel feeds. Each channel is polled
// through its Atom feed; when an API key is configured, view statistics are
// attached from the data API in a second pass. Statistics are best effort
// and never fail the fetch.
type SocialFeed struct {
	cfg    config.SocialFeedSource
	apiKey string
	parser *gofeed.Parser
	client *http.Client
	logger zerolog.Logger
}

type socialStatistics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

type socialPayload struct {
	VideoID      string            `json:"video_id"`
	ChannelName  string            `json:"channel_name"`
	ChannelID    string            `json:"channel_id,omitempty"`
	ChannelTitle string            `json:"channel_title"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	PublishedAt  string            `json:"published_at"`
	URL          string            `json:"url"`
	Statistics   *socialStatistics `json:"statistics,omitempty"`
}

func NewSocialFeed(cfg config.SocialFeedSource, apiKey string, logger zerolog.Logger) *SocialFeed {
	parser := gofeed.NewParser()
	parser.UserAgent = defaultUserAgent
	parser.Client = newHTTPClient()
	return &SocialFeed{
		cfg:    cfg,
		apiKey: apiKey,
		parser: parser,
		client: newHTTPClient(),
		logger: logger,
	}
}

func (s *SocialFeed) Name() string             { return "social_feed" }
func (s *SocialFeed) Platform() store.Platform { return store.PlatformSocialFeed }

func (s *SocialFeed) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	names := make([]string, 0, len(s.cfg.Channels))
	for name := range s.cfg.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		payloads []*socialPayload
		failures int
		lastErr  error
	)
	for _, name := range names {
		channel := s.cfg.Channels[name]
		feed, err := s.parser.ParseURLWithContext(channelFeedURL(channel), ctx)
		if err != nil {
			failures++
			lastErr = err
			s.logger.Warn().Err(err).Str("channel", name).Msg("channel feed fetch failed")
			continue
		}

		for i, item := range feed.Items {
			if i >= s.cfg.MaxResults {
				break
			}
			payload := &socialPayload{
				VideoID:      videoID(item),
				ChannelName:  name,
				ChannelTitle: feed.Title,
				Title:        item.Title,
				Description:  videoDescription(item),
				PublishedAt:  formatFeedTime(item.PublishedParsed),
				URL:          item.Link,
			}
			if !strings.HasPrefix(channel, "http") {
				payload.ChannelID = channel
			}
			payloads = append(payloads, payload)
		}
	}

	if failures > 0 && failures == len(names) {
		return nil, fmt.Errorf("social_feed: %w: all %d channels failed: %v", ErrUnavailable, failures, lastErr)
	}

	s.attachStatistics(ctx, payloads)

	out := make([]json.RawMessage, 0, len(payloads))
	for _, payload := range payloads {
		raw, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

// attachStatistics decorates payloads with view counts from the data API,
// chunked to its id-list limit.
func (s *SocialFeed) attachStatistics(ctx context.Context, payloads []*socialPayload) {
	if strings.TrimSpace(s.apiKey) == "" || len(payloads) == 0 {
		return
	}

	ids := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		if payload.VideoID != "" {
			ids = append(ids, payload.VideoID)
		}
	}

	stats := make(map[string]*socialStatistics, len(ids))
	for start := 0; start < len(ids); start += statsChunkSize {
		end := start + statsChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := s.fetchStatistics(ctx, ids[start:end], stats); err != nil {
			s.logger.Warn().Err(err).Msg("video statistics fetch failed")
			return
		}
	}

	for _, payload := range payloads {
		if st, ok := stats[payload.VideoID]; ok {
			payload.Statistics = st
		}
	}
}

func (s *SocialFeed) fetchStatistics(ctx context.Context, ids []string, into map[string]*socialStatistics) error {
	params := url.Values{}
	params.Set("part", "statistics")
	params.Set("id", strings.Join(ids, ","))
	params.Set("key", s.apiKey)

	body, _, err := fetchBody(ctx, s.client, s.cfg.BaseURL+"/videos?"+params.Encode())
	if err != nil {
		return err
	}

	var payload struct {
		Items []struct {
			ID         string `json:"id"`
			Statistics struct {
				ViewCount    string `json:"viewCount"`
				LikeCount    string `json:"likeCount"`
				CommentCount string `json:"commentCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode statistics response: %w", err)
	}

	for _, item := range payload.Items {
		into[item.ID] = &socialStatistics{
			Views:    parseCount(item.Statistics.ViewCount),
			Likes:    parseCount(item.Statistics.LikeCount),
			Comments: parseCount(item.Statistics.CommentCount),
		}
	}
	return nil
}

func channelFeedURL(channel string) string {
	if strings.HasPrefix(channel, "http") {
		return channel
	}
	return fmt.Sprintf(channelFeedURLFormat, url.QueryEscape(channel))
}

// videoID prefers the yt:videoId feed extension and falls back to the watch
// link query parameter.
func videoID(item *gofeed.Item) string {
	if exts, ok := item.Extensions["yt"]; ok {
		if ids, ok := exts["videoId"]; ok && len(ids) > 0 {
			return ids[0].Value
		}
	}
	if parsed, err := url.Parse(item.Link); err == nil {
		if v := parsed.Query().Get("v"); v != "" {
			return v
		}
	}
	return ""
}

// videoDescription digs the media:group description out of the feed
// extensions, falling back to the plain item description.
func videoDescription(item *gofeed.Item) string {
	if exts, ok := item.Extensions["media"]; ok {
		for _, group := range exts["group"] {
			for _, desc := range group.Children["description"] {
				if strings.TrimSpace(desc.Value) != "" {
					return desc.Value
				}
			}
		}
	}
	return item.Description
}

// The data API reports counts as decimal strings.
func parseCount(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
