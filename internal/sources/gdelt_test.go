package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"horse.fit/mediawatch/internal/config"
)

func TestGDELT_Fetch(t *testing.T) {
	t.Parallel()

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"articles": [
			{"url": "https://kompas.com/a", "title": "Satu", "domain": "kompas.com"},
			{"url": "https://tempo.co/b", "title": "Dua", "domain": "tempo.co"}
		]}`))
	}))
	defer server.Close()

	src := NewGDELT(config.GDELTSource{
		BaseURL:    server.URL,
		Query:      "banjir OR gempa",
		MaxRecords: 10,
		Timespan:   "24h",
		SourceLang: "ind",
	})

	payloads, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(payloads))
	}
	if gotQuery != "(banjir OR gempa)" {
		t.Fatalf("expected OR terms wrapped, got %q", gotQuery)
	}

	var article struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(payloads[0], &article); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if article.URL != "https://kompas.com/a" {
		t.Fatalf("unexpected article url: %q", article.URL)
	}
}

func TestGDELT_NonJSONResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	}))
	defer server.Close()

	src := NewGDELT(config.GDELTSource{BaseURL: server.URL, Query: "banjir", MaxRecords: 10})
	_, err := src.Fetch(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for HTML response, got %v", err)
	}
}

func TestGDELT_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	src := NewGDELT(config.GDELTSource{BaseURL: server.URL, Query: "banjir", MaxRecords: 10})
	_, err := src.Fetch(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for 500, got %v", err)
	}
}

func TestWrapORTerms(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"banjir OR gempa":   "(banjir OR gempa)",
		"(banjir OR gempa)": "(banjir OR gempa)",
		"banjir jakarta":    "banjir jakarta",
		" banjir ":          "banjir",
	}
	for input, want := range cases {
		if got := wrapORTerms(input); got != want {
			t.Fatalf("wrapORTerms(%q) = %q, want %q", input, got, want)
		}
	}
}
