package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"horse.fit/mediawatch/internal/store"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"si":      {},
}

const contentKeySampleRunes = 200

// ApplyFingerprint canonicalizes the record URL and stamps both dedup keys.
// Deterministic for identical input, so re-running it on a stored record
// reproduces the same keys across process restarts.
func ApplyFingerprint(rec *store.Record) {
	canonical := CanonicalizeURL(rec.URL)
	if canonical == "" {
		canonical = strings.TrimSpace(rec.URL)
	}
	rec.CanonicalURL = canonical
	rec.IdentityKey = IdentityKey(rec.Platform, canonical)
	rec.ContentKey = ContentKey(rec.Title, rec.Summary)
}

// IdentityKey is the primary dedup key: same platform plus same canonical
// URL always collide.
func IdentityKey(platform store.Platform, canonicalURL string) string {
	return sha256Hex(string(platform) + "|" + canonicalURL)
}

// ContentKey is the cross-source dedup signal: near-identical titles and
// summaries collide regardless of URL. Only a bounded prefix of the
// normalized text participates, so trailing boilerplate differences do not
// split the key.
func ContentKey(title, summary string) string {
	t := truncateRunes(normalizeText(title), contentKeySampleRunes)
	s := truncateRunes(normalizeText(summary), contentKeySampleRunes)
	return sha256Hex(t + "||" + s)
}

// CanonicalizeURL lowercases scheme and host, strips default ports, drops
// the fragment, trims the trailing slash, removes tracking parameters, and
// sorts the remaining query. Returns "" when the input is not an absolute
// URL.
func CanonicalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			parsed.Host = parsed.Host + ":" + port
		}
	}

	parsed.Fragment = ""
	path := strings.TrimSpace(parsed.EscapedPath())
	if path == "" {
		path = "/"
	}
	path = strings.ReplaceAll(path, "//", "/")
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	parsed.Path = path
	parsed.RawPath = ""

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	if len(q) > 0 {
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		reordered := url.Values{}
		for _, key := range keys {
			values := q[key]
			sort.Strings(values)
			for _, value := range values {
				reordered.Add(key, value)
			}
		}
		parsed.RawQuery = reordered.Encode()
	} else {
		parsed.RawQuery = ""
	}

	return parsed.String()
}

// normalizeText lowercases, strips punctuation, and collapses whitespace so
// near-identical wording across sources produces identical text.
func normalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
