// Package report turns stored records into a markdown monitoring report:
// summary tables over the window plus per-topic deep-dive sections with an
// optional search-grounded narrative.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"horse.fit/mediawatch/internal/store"
)

// TopicGroup is one report section: a topic plus its most recent records,
// newest first.
type TopicGroup struct {
	Topic     string
	Records   []*store.Record
	Truncated int
}

// Total is the group size before capping.
func (g TopicGroup) Total() int {
	return len(g.Records) + g.Truncated
}

// Querier is the record access the selector needs.
type Querier interface {
	Query(ctx context.Context, filter store.Filter) ([]*store.Record, error)
}

// Selector picks the records a report section should show. Only records
// that finished enrichment carry trustworthy topics, so everything else is
// excluded up front.
type Selector struct {
	store    Querier
	maxItems int
}

func NewSelector(st Querier, maxItemsPerTopic int) *Selector {
	if maxItemsPerTopic <= 0 {
		maxItemsPerTopic = 10
	}
	return &Selector{store: st, maxItems: maxItemsPerTopic}
}

// SelectForReport groups enriched records in the window by topic. A record
// carrying several topics appears in each of their groups. When topics are
// given the groups come back in that order; otherwise largest first.
func (s *Selector) SelectForReport(ctx context.Context, topics []string, since, until *time.Time) ([]TopicGroup, error) {
	filter := store.Filter{
		Since:     since,
		Until:     until,
		TimeField: store.TimeFieldPublished,
		Topics:    topics,
		States:    []store.EnrichmentState{store.StateEnriched, store.StateEnrichedFallback},
	}

	records, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query enriched records: %w", err)
	}

	requested := make([]string, 0, len(topics))
	want := make(map[string]bool, len(topics))
	for _, topic := range topics {
		key := strings.ToLower(strings.TrimSpace(topic))
		if key == "" || want[key] {
			continue
		}
		want[key] = true
		requested = append(requested, key)
	}

	grouped := make(map[string][]*store.Record)
	for _, rec := range records {
		for _, topic := range rec.Tags.Topics {
			key := strings.ToLower(strings.TrimSpace(topic))
			if key == "" {
				continue
			}
			if len(want) > 0 && !want[key] {
				continue
			}
			grouped[key] = append(grouped[key], rec)
		}
	}

	order := requested
	if len(order) == 0 {
		order = make([]string, 0, len(grouped))
		for topic := range grouped {
			order = append(order, topic)
		}
		sort.Slice(order, func(i, j int) bool {
			if len(grouped[order[i]]) != len(grouped[order[j]]) {
				return len(grouped[order[i]]) > len(grouped[order[j]])
			}
			return order[i] < order[j]
		})
	}

	groups := make([]TopicGroup, 0, len(order))
	for _, topic := range order {
		recs := grouped[topic]
		if len(recs) == 0 {
			continue
		}
		sort.SliceStable(recs, func(i, j int) bool {
			return recordTime(recs[i]).After(recordTime(recs[j]))
		})
		group := TopicGroup{Topic: topic, Records: recs}
		if len(recs) > s.maxItems {
			group.Records = recs[:s.maxItems]
			group.Truncated = len(recs) - s.maxItems
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// recordTime is the report ordering timestamp: publish time when known,
// ingest time otherwise.
func recordTime(rec *store.Record) time.Time {
	if rec.PublishedAt != nil {
		return *rec.PublishedAt
	}
	return rec.IngestedAt
}
