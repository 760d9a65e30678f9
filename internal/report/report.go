package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/globaltime"
	"horse.fit/mediawatch/internal/store"
)

const (
	topPublisherLimit = 20
	topicCountLimit   = 30
	maxNarrativeURLs  = 8
	maxCitations      = 20
)

// Store is the record and aggregate access a report build needs.
type Store interface {
	Querier
	CountByPlatform(ctx context.Context, since *time.Time) ([]store.PlatformCount, error)
	TopPublishers(ctx context.Context, since *time.Time, limit int) ([]store.PublisherCount, error)
	TopicCounts(ctx context.Context, since *time.Time) ([]store.TopicCount, error)
}

// NarrativeProvider produces the optional deep-dive synthesis per topic.
type NarrativeProvider interface {
	TopicNarrative(ctx context.Context, topic, recency string, urls []string) (*Narrative, error)
}

// Builder assembles markdown monitoring reports. A nil narrative provider
// yields table-only reports; a failing one degrades per section.
type Builder struct {
	store     Store
	selector  *Selector
	narrative NarrativeProvider
	logger    zerolog.Logger
}

func NewBuilder(st Store, narrative NarrativeProvider, cfg config.Report, logger zerolog.Logger) *Builder {
	return &Builder{
		store:     st,
		selector:  NewSelector(st, cfg.MaxItemsPerTopic),
		narrative: narrative,
		logger:    logger,
	}
}

// BuildOptions scope one report. Zero Since/Until means an unbounded
// window; Topics narrows the deep-dive sections.
type BuildOptions struct {
	Since  *time.Time
	Until  *time.Time
	Topics []string
}

// Build assembles the report and returns it as markdown.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (string, error) {
	if b == nil || b.store == nil {
		return "", fmt.Errorf("report builder is not initialized")
	}

	platformCounts, err := b.store.CountByPlatform(ctx, opts.Since)
	if err != nil {
		return "", fmt.Errorf("count by platform: %w", err)
	}
	publishers, err := b.store.TopPublishers(ctx, opts.Since, topPublisherLimit)
	if err != nil {
		return "", fmt.Errorf("top publishers: %w", err)
	}
	topicCounts, err := b.store.TopicCounts(ctx, opts.Since)
	if err != nil {
		return "", fmt.Errorf("topic counts: %w", err)
	}
	groups, err := b.selector.SelectForReport(ctx, opts.Topics, opts.Since, opts.Until)
	if err != nil {
		return "", fmt.Errorf("select topic groups: %w", err)
	}

	var total int64
	for _, pc := range platformCounts {
		total += pc.Count
	}

	var lines []string
	lines = append(lines, "# Media Monitoring Report", "")
	lines = append(lines, fmt.Sprintf("Generated %s.", globaltime.UTC().Format("2006-01-02 15:04 MST")))
	if window := windowLine(opts.Since, opts.Until); window != "" {
		lines = append(lines, window)
	}
	lines = append(lines, fmt.Sprintf("Records in window: **%d**", total), "")

	lines = append(lines, "## Volume by platform", "")
	if len(platformCounts) > 0 {
		rows := make([][]string, 0, len(platformCounts))
		for _, pc := range platformCounts {
			rows = append(rows, []string{string(pc.Platform), strconv.FormatInt(pc.Count, 10)})
		}
		lines = append(lines, renderTable([]string{"Platform", "Records"}, rows))
	} else {
		lines = append(lines, "_No records in this window._")
	}
	lines = append(lines, "")

	lines = append(lines, "## Top publishers", "")
	if len(publishers) > 0 {
		rows := make([][]string, 0, len(publishers))
		for _, pub := range publishers {
			rows = append(rows, []string{pub.Publisher, strconv.FormatInt(pub.Count, 10)})
		}
		lines = append(lines, renderTable([]string{"Publisher", "Records"}, rows))
	} else {
		lines = append(lines, "_No publishers in this window._")
	}
	lines = append(lines, "")

	lines = append(lines, "## Topic counts (enriched)", "")
	if len(topicCounts) > 0 {
		if len(topicCounts) > topicCountLimit {
			topicCounts = topicCounts[:topicCountLimit]
		}
		rows := make([][]string, 0, len(topicCounts))
		for _, tc := range topicCounts {
			rows = append(rows, []string{tc.Topic, strconv.FormatInt(tc.Count, 10)})
		}
		lines = append(lines, renderTable([]string{"Topic", "Records"}, rows))
	} else {
		lines = append(lines, "_No enriched topic tags in this window._")
	}
	lines = append(lines, "")

	if len(groups) > 0 {
		lines = append(lines, "## Topic deep dive", "")
		recency := recencyFor(opts.Since)
		for _, group := range groups {
			lines = append(lines, b.topicSection(ctx, group, recency)...)
		}
	}

	return strings.Join(lines, "\n") + "\n", nil
}

func (b *Builder) topicSection(ctx context.Context, group TopicGroup, recency string) []string {
	lines := []string{fmt.Sprintf("### %s", group.Topic), ""}

	if b.narrative != nil {
		narr, err := b.narrative.TopicNarrative(ctx, group.Topic, recency, groupURLs(group))
		switch {
		case err != nil:
			b.logger.Warn().Err(err).
				Str("topic", group.Topic).
				Msg("narrative request failed, section stays table-only")
		case narr.Text != "":
			lines = append(lines, narr.Text, "")
			if len(narr.Citations) > 0 {
				citations := narr.Citations
				if len(citations) > maxCitations {
					citations = citations[:maxCitations]
				}
				lines = append(lines, "**Citations:**", "")
				for _, c := range citations {
					lines = append(lines, "- "+c)
				}
				lines = append(lines, "")
			}
		}
	}

	for _, rec := range group.Records {
		lines = append(lines, itemLine(rec))
	}
	if group.Truncated > 0 {
		lines = append(lines, fmt.Sprintf("- _%d more records in this topic not shown._", group.Truncated))
	}
	return append(lines, "")
}

func itemLine(rec *store.Record) string {
	title := strings.NewReplacer("[", "(", "]", ")").Replace(rec.Title)
	if title == "" {
		title = rec.URL
	}
	meta := make([]string, 0, 2)
	if rec.Publisher != "" {
		meta = append(meta, rec.Publisher)
	}
	meta = append(meta, recordTime(rec).Format("2006-01-02"))
	return fmt.Sprintf("- [%s](%s) (%s)", title, rec.URL, strings.Join(meta, ", "))
}

func groupURLs(group TopicGroup) []string {
	urls := make([]string, 0, maxNarrativeURLs)
	seen := make(map[string]bool, maxNarrativeURLs)
	for _, rec := range group.Records {
		if rec.URL == "" || seen[rec.URL] {
			continue
		}
		seen[rec.URL] = true
		urls = append(urls, rec.URL)
		if len(urls) >= maxNarrativeURLs {
			break
		}
	}
	return urls
}

func windowLine(since, until *time.Time) string {
	switch {
	case since != nil && until != nil:
		return fmt.Sprintf("Window: %s to %s.", since.UTC().Format("2006-01-02"), until.UTC().Format("2006-01-02"))
	case since != nil:
		return fmt.Sprintf("Window: since %s.", since.UTC().Format("2006-01-02"))
	case until != nil:
		return fmt.Sprintf("Window: until %s.", until.UTC().Format("2006-01-02"))
	default:
		return ""
	}
}

// recencyFor maps the window to the search recency filter buckets the
// narrative endpoint understands.
func recencyFor(since *time.Time) string {
	if since == nil {
		return ""
	}
	age := globaltime.UTC().Sub(*since)
	switch {
	case age <= 36*time.Hour:
		return "day"
	case age <= 8*24*time.Hour:
		return "week"
	case age <= 32*24*time.Hour:
		return "month"
	default:
		return "year"
	}
}
