package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Monitor is the operational pipeline configuration: which sources to pull,
// the tagging taxonomy, and the enrichment/report knobs. It is versioned next
// to the deployment, not in the environment.
type Monitor struct {
	Sources    Sources    `yaml:"sources"`
	Taxonomy   Taxonomy   `yaml:"taxonomy"`
	Enrichment Enrichment `yaml:"enrichment"`
	Report     Report     `yaml:"report"`
}

type Sources struct {
	GDELT      GDELTSource      `yaml:"gdelt"`
	Aggregator AggregatorSource `yaml:"aggregator"`
	RSS        RSSSource        `yaml:"rss"`
	SocialFeed SocialFeedSource `yaml:"social_feed"`
}

type GDELTSource struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	Query      string `yaml:"query"`
	MaxRecords int    `yaml:"max_records"`
	Timespan   string `yaml:"timespan"`
	SourceLang string `yaml:"source_lang"`
}

type AggregatorSource struct {
	Enabled   bool     `yaml:"enabled"`
	BaseURL   string   `yaml:"base_url"`
	Countries []string `yaml:"countries"`
	Languages []string `yaml:"languages"`
	Keywords  []string `yaml:"keywords"`
	Limit     int      `yaml:"limit"`
}

type RSSSource struct {
	Enabled bool              `yaml:"enabled"`
	Feeds   map[string]string `yaml:"feeds"`
}

type SocialFeedSource struct {
	Enabled    bool              `yaml:"enabled"`
	BaseURL    string            `yaml:"base_url"`
	Channels   map[string]string `yaml:"channels"`
	MaxResults int               `yaml:"max_results"`
}

// Taxonomy is the allowed tagging vocabulary. It is passed by reference into
// the enrichment orchestrator and the fallback tagger; tags outside it are
// dropped during validation.
type Taxonomy struct {
	Topics map[string]TopicDef `yaml:"topics"`
	Actors []string            `yaml:"actors"`
}

type TopicDef struct {
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Locations   []string `yaml:"locations"`
}

type Enrichment struct {
	BatchSize             int    `yaml:"batch_size"`
	MaxAttempts           int    `yaml:"max_attempts"`
	Concurrency           int    `yaml:"concurrency"`
	Model                 string `yaml:"model"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	RequestsPerMinute     int    `yaml:"requests_per_minute"`
	FetchContent          bool   `yaml:"fetch_content"`
	FetchLimit            int    `yaml:"fetch_limit"`
}

type Report struct {
	MaxItemsPerTopic        int    `yaml:"max_items_per_topic"`
	Model                   string `yaml:"model"`
	NarrativeTimeoutSeconds int    `yaml:"narrative_timeout_seconds"`
}

// LoadMonitor reads, defaults, and validates the monitor file.
func LoadMonitor(path string) (*Monitor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read monitor config %s: %w", path, err)
	}

	var m Monitor
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse monitor config %s: %w", path, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("monitor config %s: %w", path, err)
	}
	return &m, nil
}

func (m *Monitor) applyDefaults() {
	if strings.TrimSpace(m.Sources.GDELT.BaseURL) == "" {
		m.Sources.GDELT.BaseURL = "https://api.gdeltproject.org/api/v2/doc/doc"
	}
	if m.Sources.GDELT.MaxRecords <= 0 {
		m.Sources.GDELT.MaxRecords = 75
	}
	if strings.TrimSpace(m.Sources.GDELT.Timespan) == "" {
		m.Sources.GDELT.Timespan = "24h"
	}
	if strings.TrimSpace(m.Sources.Aggregator.BaseURL) == "" {
		m.Sources.Aggregator.BaseURL = "http://api.mediastack.com/v1/news"
	}
	if m.Sources.Aggregator.Limit <= 0 {
		m.Sources.Aggregator.Limit = 100
	}
	if strings.TrimSpace(m.Sources.SocialFeed.BaseURL) == "" {
		m.Sources.SocialFeed.BaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if m.Sources.SocialFeed.MaxResults <= 0 {
		m.Sources.SocialFeed.MaxResults = 25
	}

	if m.Enrichment.BatchSize <= 0 {
		m.Enrichment.BatchSize = 8
	}
	if m.Enrichment.MaxAttempts <= 0 {
		m.Enrichment.MaxAttempts = 3
	}
	if m.Enrichment.Concurrency <= 0 {
		m.Enrichment.Concurrency = 2
	}
	if strings.TrimSpace(m.Enrichment.Model) == "" {
		m.Enrichment.Model = "gemini-2.5-flash"
	}
	if m.Enrichment.RequestTimeoutSeconds <= 0 {
		m.Enrichment.RequestTimeoutSeconds = 60
	}
	if m.Enrichment.RequestsPerMinute <= 0 {
		m.Enrichment.RequestsPerMinute = 10
	}
	if m.Enrichment.FetchLimit <= 0 {
		m.Enrichment.FetchLimit = 25
	}

	if m.Report.MaxItemsPerTopic <= 0 {
		m.Report.MaxItemsPerTopic = 10
	}
	if strings.TrimSpace(m.Report.Model) == "" {
		m.Report.Model = "sonar-pro"
	}
	if m.Report.NarrativeTimeoutSeconds <= 0 {
		m.Report.NarrativeTimeoutSeconds = 90
	}

	normalized := make(map[string]TopicDef, len(m.Taxonomy.Topics))
	for name, def := range m.Taxonomy.Topics {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		normalized[key] = def
	}
	m.Taxonomy.Topics = normalized
}

func (m *Monitor) Validate() error {
	if len(m.Taxonomy.Topics) == 0 {
		return fmt.Errorf("taxonomy.topics must define at least one topic")
	}
	if m.Sources.GDELT.Enabled && strings.TrimSpace(m.Sources.GDELT.Query) == "" {
		return fmt.Errorf("sources.gdelt.query is required when gdelt is enabled")
	}
	if m.Sources.RSS.Enabled && len(m.Sources.RSS.Feeds) == 0 {
		return fmt.Errorf("sources.rss.feeds must list at least one feed when rss is enabled")
	}
	if m.Sources.SocialFeed.Enabled && len(m.Sources.SocialFeed.Channels) == 0 {
		return fmt.Errorf("sources.social_feed.channels must list at least one channel when social_feed is enabled")
	}
	return nil
}

// TopicNames returns the allowed topic names in sorted order.
func (t Taxonomy) TopicNames() []string {
	names := make([]string, 0, len(t.Topics))
	for name := range t.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t Taxonomy) HasTopic(name string) bool {
	_, ok := t.Topics[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (t Taxonomy) HasActor(name string) bool {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return false
	}
	for _, actor := range t.Actors {
		if strings.ToLower(strings.TrimSpace(actor)) == needle {
			return true
		}
	}
	return false
}

// HasLocation reports whether any topic lists the location.
func (t Taxonomy) HasLocation(name string) bool {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return false
	}
	for _, def := range t.Topics {
		for _, loc := range def.Locations {
			if strings.ToLower(strings.TrimSpace(loc)) == needle {
				return true
			}
		}
	}
	return false
}
