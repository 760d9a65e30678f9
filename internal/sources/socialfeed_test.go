package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/mediawatch/internal/config"
)

const channelFeedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015"
      xmlns:media="http://search.yahoo.com/mrss/"
      xmlns="http://www.w3.org/2005/Atom">
  <title>KOMPASTV</title>
  <entry>
    <id>yt:video:abc123</id>
    <yt:videoId>abc123</yt:videoId>
    <title>Laporan Langsung Banjir</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=abc123"/>
    <published>2026-08-20T01:00:00+00:00</published>
    <media:group>
      <media:description>Pantauan dari lokasi kejadian.</media:description>
    </media:group>
  </entry>
  <entry>
    <id>yt:video:def456</id>
    <yt:videoId>def456</yt:videoId>
    <title>Berita Kedua</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=def456"/>
    <published>2026-08-19T01:00:00+00:00</published>
  </entry>
</feed>`

func TestSocialFeed_Fetch(t *testing.T) {
	t.Parallel()

	feedServer := serveXML(t, channelFeedFixture)
	src := NewSocialFeed(config.SocialFeedSource{
		Channels:   map[string]string{"kompas-tv": feedServer.URL},
		MaxResults: 10,
	}, "", zerolog.Nop())

	payloads, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(payloads))
	}

	var item socialPayload
	if err := json.Unmarshal(payloads[0], &item); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if item.VideoID != "abc123" {
		t.Fatalf("unexpected video id: %q", item.VideoID)
	}
	if item.ChannelName != "kompas-tv" {
		t.Fatalf("unexpected channel name: %q", item.ChannelName)
	}
	if item.ChannelTitle != "KOMPASTV" {
		t.Fatalf("unexpected channel title: %q", item.ChannelTitle)
	}
	if item.Description != "Pantauan dari lokasi kejadian." {
		t.Fatalf("expected media:group description, got %q", item.Description)
	}
	if item.URL != "https://www.youtube.com/watch?v=abc123" {
		t.Fatalf("unexpected url: %q", item.URL)
	}
	if item.Statistics != nil {
		t.Fatalf("expected no statistics without an api key")
	}
}

func TestSocialFeed_MaxResults(t *testing.T) {
	t.Parallel()

	feedServer := serveXML(t, channelFeedFixture)
	src := NewSocialFeed(config.SocialFeedSource{
		Channels:   map[string]string{"kompas-tv": feedServer.URL},
		MaxResults: 1,
	}, "", zerolog.Nop())

	payloads, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("expected max_results to cap payloads, got %d", len(payloads))
	}
}

func TestSocialFeed_AttachesStatistics(t *testing.T) {
	t.Parallel()

	feedServer := serveXML(t, channelFeedFixture)

	statsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("key") != "stat-key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [
			{"id": "abc123", "statistics": {"viewCount": "1200", "likeCount": "34", "commentCount": "5"}}
		]}`))
	}))
	t.Cleanup(statsServer.Close)

	src := NewSocialFeed(config.SocialFeedSource{
		BaseURL:    statsServer.URL,
		Channels:   map[string]string{"kompas-tv": feedServer.URL},
		MaxResults: 10,
	}, "stat-key", zerolog.Nop())

	payloads, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var first, second socialPayload
	if err := json.Unmarshal(payloads[0], &first); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if err := json.Unmarshal(payloads[1], &second); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}

	if first.Statistics == nil || first.Statistics.Views != 1200 || first.Statistics.Likes != 34 {
		t.Fatalf("expected statistics attached, got %+v", first.Statistics)
	}
	if second.Statistics != nil {
		t.Fatalf("videos without stats stay bare, got %+v", second.Statistics)
	}
}

func TestSocialFeed_StatisticsFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	feedServer := serveXML(t, channelFeedFixture)
	statsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	t.Cleanup(statsServer.Close)

	src := NewSocialFeed(config.SocialFeedSource{
		BaseURL:    statsServer.URL,
		Channels:   map[string]string{"kompas-tv": feedServer.URL},
		MaxResults: 10,
	}, "stat-key", zerolog.Nop())

	payloads, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("statistics failure must not fail the fetch: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected feed payloads regardless of stats, got %d", len(payloads))
	}
}

func TestChannelFeedURL(t *testing.T) {
	t.Parallel()

	if got := channelFeedURL("UCabc"); got != "https://www.youtube.com/feeds/videos.xml?channel_id=UCabc" {
		t.Fatalf("unexpected feed url: %q", got)
	}
	if got := channelFeedURL("http://example.com/feed.xml"); got != "http://example.com/feed.xml" {
		t.Fatalf("full urls must pass through, got %q", got)
	}
}
