package report

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func narrativeAgainst(t *testing.T, handler http.HandlerFunc) *NarrativeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewNarrativeClient("sonar-key", "sonar-pro", 5*time.Second)
	c.baseURL = srv.URL
	return c
}

func TestTopicNarrative(t *testing.T) {
	t.Parallel()

	c := narrativeAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sonar-key" {
			t.Errorf("Authorization = %q", got)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read request: %v", err)
		}
		var req chatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("request is not JSON: %v", err)
		}
		if req.Model != "sonar-pro" {
			t.Errorf("model = %q", req.Model)
		}
		if req.SearchRecencyFilter != "week" {
			t.Errorf("search_recency_filter = %q, want week", req.SearchRecencyFilter)
		}
		if len(req.Messages) != 2 || req.Messages[1].Role != "user" {
			t.Fatalf("messages = %+v, want system then user", req.Messages)
		}
		user := req.Messages[1].Content
		if !strings.Contains(user, `"banjir jakarta"`) || !strings.Contains(user, "https://news.detik.com/a") {
			t.Errorf("user prompt missing topic or anchor URLs:\n%s", user)
		}

		io.WriteString(w, `{
			"choices": [{"message": {"content": "  - Floods dominated coverage.\n- BNPB coordinated evacuations.  "}}],
			"citations": ["https://news.detik.com/a", "https://www.kompas.com/b"]
		}`)
	})

	narr, err := c.TopicNarrative(context.Background(), "banjir jakarta", "week", []string{"https://news.detik.com/a"})
	if err != nil {
		t.Fatalf("TopicNarrative() error = %v", err)
	}
	if !strings.HasPrefix(narr.Text, "- Floods dominated") {
		t.Errorf("Text = %q, want trimmed content", narr.Text)
	}
	if len(narr.Citations) != 2 || narr.Citations[0] != "https://news.detik.com/a" {
		t.Errorf("Citations = %v", narr.Citations)
	}
}

func TestTopicNarrativeErrorStatus(t *testing.T) {
	t.Parallel()

	c := narrativeAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"invalid api key"}`)
	})
	if _, err := c.TopicNarrative(context.Background(), "pemilu", "", nil); err == nil {
		t.Fatal("TopicNarrative() error = nil, want auth failure surfaced")
	}
}

func TestTopicNarrativeNoChoices(t *testing.T) {
	t.Parallel()

	c := narrativeAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": []}`)
	})
	if _, err := c.TopicNarrative(context.Background(), "pemilu", "", nil); err == nil {
		t.Fatal("TopicNarrative() error = nil, want empty answer rejected")
	}
}

func TestTopicNarrativeRequiresConfiguration(t *testing.T) {
	t.Parallel()

	c := NewNarrativeClient("", "sonar-pro", time.Second)
	if _, err := c.TopicNarrative(context.Background(), "pemilu", "", nil); err == nil {
		t.Fatal("TopicNarrative() error = nil, want misconfiguration surfaced")
	}
}
