package enrich

import (
	"net/url"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/langdetect"
	"horse.fit/mediawatch/internal/store"
)

const (
	sentimentPositive = "positive"
	sentimentNegative = "negative"
	sentimentNeutral  = "neutral"
)

var (
	editorialWords       = []string{"opini", "menurut saya", "seharusnya", "kritik"}
	editorialPathMarkers = []string{"opini", "kolom", "editorial"}
	positiveWords        = []string{"positif", "baik", "bagus", "apresiasi"}
	negativeWords        = []string{"negatif", "buruk", "jelek", "korupsi", "skandal"}
)

type termKind int

const (
	termTopicKeyword termKind = iota
	termTopicLocation
	termActor
)

// termRef maps an automaton pattern index back to what it is evidence for.
type termRef struct {
	kind  termKind
	owner string
	term  string
}

type topicTermCounts struct {
	keywords  int
	locations int
}

// FallbackTagger labels records from taxonomy keywords alone, with a single
// Aho-Corasick pass over the record text. It backstops the classifier when
// that is unavailable or keeps failing, so its output is deliberately
// conservative: a topic needs a keyword hit when it defines keywords and a
// location hit when it defines locations, and topics defining neither are
// never assigned.
type FallbackTagger struct {
	matcher      *ahocorasick.Matcher
	terms        []termRef
	topicOrder   []string
	requirements map[string]topicTermCounts
}

func NewFallbackTagger(taxonomy config.Taxonomy) *FallbackTagger {
	t := &FallbackTagger{requirements: make(map[string]topicTermCounts)}

	var patterns []string
	appendTerm := func(kind termKind, owner, term string) bool {
		pattern := strings.ToLower(strings.TrimSpace(term))
		if pattern == "" {
			return false
		}
		t.terms = append(t.terms, termRef{kind: kind, owner: owner, term: strings.TrimSpace(term)})
		patterns = append(patterns, pattern)
		return true
	}

	for _, name := range taxonomy.TopicNames() {
		def := taxonomy.Topics[name]
		var counts topicTermCounts
		for _, keyword := range def.Keywords {
			if appendTerm(termTopicKeyword, name, keyword) {
				counts.keywords++
			}
		}
		for _, location := range def.Locations {
			if appendTerm(termTopicLocation, name, location) {
				counts.locations++
			}
		}
		if counts.keywords == 0 && counts.locations == 0 {
			continue
		}
		t.topicOrder = append(t.topicOrder, name)
		t.requirements[name] = counts
	}
	for _, actor := range taxonomy.Actors {
		appendTerm(termActor, strings.TrimSpace(actor), actor)
	}

	if len(patterns) > 0 {
		t.matcher = ahocorasick.NewStringMatcher(patterns)
	}
	return t
}

// Tag derives tags for one record. It never fails: an empty text simply
// yields no topics.
func (t *FallbackTagger) Tag(rec *store.Record) store.Tags {
	haystack := strings.ToLower(strings.Join([]string{
		rec.Title,
		rec.Summary,
		truncateChars(rec.FullText, maxContentChars),
	}, "\n"))

	keywordHits := make(map[string]bool)
	locationHits := make(map[string]bool)
	seenActor := make(map[string]bool)
	seenLocation := make(map[string]bool)
	var actors, locations []string

	if t.matcher != nil {
		for _, idx := range t.matcher.Match([]byte(haystack)) {
			ref := t.terms[idx]
			switch ref.kind {
			case termTopicKeyword:
				keywordHits[ref.owner] = true
			case termTopicLocation:
				locationHits[ref.owner] = true
				if key := strings.ToLower(ref.term); !seenLocation[key] {
					seenLocation[key] = true
					locations = append(locations, ref.term)
				}
			case termActor:
				if !seenActor[ref.owner] {
					seenActor[ref.owner] = true
					actors = append(actors, ref.owner)
				}
			}
		}
	}

	var topics []string
	for _, name := range t.topicOrder {
		req := t.requirements[name]
		if req.keywords > 0 && !keywordHits[name] {
			continue
		}
		if req.locations > 0 && !locationHits[name] {
			continue
		}
		topics = append(topics, name)
	}

	tags := store.Tags{
		Topics:    topics,
		Actors:    actors,
		Locations: locations,
		Language:  "unknown",
		Sentiment: sentimentOf(haystack),
	}
	if lang := langdetect.DetectISO6391(rec.Title + " " + rec.Summary); lang != "" {
		tags.Language = lang
	}
	if isEditorial(haystack, rec.URL) {
		yes := true
		tags.IsEditorial = &yes
	}
	return tags
}

func sentimentOf(text string) string {
	for _, word := range positiveWords {
		if strings.Contains(text, word) {
			return sentimentPositive
		}
	}
	for _, word := range negativeWords {
		if strings.Contains(text, word) {
			return sentimentNegative
		}
	}
	return sentimentNeutral
}

func isEditorial(text, rawURL string) bool {
	for _, word := range editorialWords {
		if strings.Contains(text, word) {
			return true
		}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(strings.ToLower(parsed.Path), "/") {
		for _, marker := range editorialPathMarkers {
			if segment == marker {
				return true
			}
		}
	}
	return false
}
