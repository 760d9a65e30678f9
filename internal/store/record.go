package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Platform identifies the upstream feed family a record arrived from.
type Platform string

const (
	PlatformGDELT      Platform = "gdelt"
	PlatformAggregator Platform = "aggregator"
	PlatformRSS        Platform = "rss"
	PlatformSocialFeed Platform = "social_feed"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformGDELT, PlatformAggregator, PlatformRSS, PlatformSocialFeed:
		return true
	default:
		return false
	}
}

// SourceType reports the coarse media class for the platform.
func (p Platform) SourceType() SourceType {
	if p == PlatformSocialFeed {
		return SourceTypeSocial
	}
	return SourceTypeNews
}

type SourceType string

const (
	SourceTypeNews   SourceType = "news"
	SourceTypeSocial SourceType = "social"
)

// EnrichmentState is the per-record tagging lifecycle. Transitions only move
// forward: pending may become any of the other three, enrichment_failed may
// still reach a terminal enriched state on a later pass, and the two enriched
// states never change again without an explicit reset.
type EnrichmentState string

const (
	StatePending          EnrichmentState = "pending"
	StateEnriched         EnrichmentState = "enriched"
	StateEnrichedFallback EnrichmentState = "enriched_fallback"
	StateEnrichmentFailed EnrichmentState = "enrichment_failed"
)

func (s EnrichmentState) Valid() bool {
	switch s {
	case StatePending, StateEnriched, StateEnrichedFallback, StateEnrichmentFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the record left the enrichment queue for good.
func (s EnrichmentState) Terminal() bool {
	return s == StateEnriched || s == StateEnrichedFallback
}

// Tags is the structured enrichment output attached to a record.
type Tags struct {
	Topics      []string `json:"topics"`
	Actors      []string `json:"actors"`
	Locations   []string `json:"locations"`
	Language    string   `json:"language"`
	Sentiment   string   `json:"sentiment,omitempty"`
	IsEditorial *bool    `json:"is_editorial,omitempty"`
}

// HasTopic matches case-insensitively.
func (t Tags) HasTopic(topic string) bool {
	needle := strings.ToLower(strings.TrimSpace(topic))
	for _, candidate := range t.Topics {
		if strings.ToLower(candidate) == needle {
			return true
		}
	}
	return false
}

// Record is the canonical unit of storage: one ingested item normalized
// across platforms, keyed by its identity fingerprint.
type Record struct {
	IdentityKey  string
	ContentKey   string
	Platform     Platform
	SourceType   SourceType
	Publisher    string
	URL          string
	CanonicalURL string
	Title        string
	Summary      string
	FullText     string
	PublishedAt  *time.Time
	IngestedAt   time.Time
	RawPayload   json.RawMessage

	// DuplicateOf carries the identity key of an earlier record on another
	// platform with the same content fingerprint. Lookup only, never owning.
	DuplicateOf string

	EnrichmentState    EnrichmentState
	EnrichmentAttempts int
	EnrichedAt         *time.Time
	Tags               Tags
}

// BestText returns the richest classifier input available for the record.
func (r *Record) BestText() string {
	if strings.TrimSpace(r.FullText) != "" {
		return r.FullText
	}
	return r.Summary
}

func marshalStringList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func unmarshalStringList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
