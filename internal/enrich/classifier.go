package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"horse.fit/mediawatch/internal/config"
)

var (
	// ErrTransient marks failures worth another attempt: rate limits, 5xx
	// answers, transport errors.
	ErrTransient = errors.New("transient classifier failure")
	// ErrPermanent marks failures more attempts cannot fix: bad requests,
	// auth problems, unparseable answers.
	ErrPermanent = errors.New("permanent classifier failure")
)

const (
	defaultClassifierBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	maxContentChars          = 4000
	classifierErrorPreview   = 512
)

// ClassifyItem is one record as submitted to the classifier. Index ties the
// answer back to the batch position.
type ClassifyItem struct {
	Index      int
	Platform   string
	SourceType string
	Publisher  string
	URL        string
	Title      string
	Summary    string
	FullText   string
}

// Classifier labels record batches through the generative language API with
// a structured JSON answer. Calls are paced by a shared rate limiter so
// concurrent batches stay inside the account quota.
type Classifier struct {
	apiKey   string
	baseURL  string
	model    string
	client   *http.Client
	limiter  *rate.Limiter
	taxonomy config.Taxonomy
}

func NewClassifier(cfg config.Enrichment, apiKey string, taxonomy config.Taxonomy) *Classifier {
	return &Classifier{
		apiKey:   apiKey,
		baseURL:  defaultClassifierBaseURL,
		model:    cfg.Model,
		client:   &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		taxonomy: taxonomy,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64        `json:"temperature"`
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ClassifyBatch submits one batch and returns the parsed per-item results.
// Errors are tagged ErrTransient or ErrPermanent for the retry policy;
// answers that parse but miss the contract surface as ErrSchemaViolation.
func (c *Classifier) ClassifyBatch(ctx context.Context, items []ClassifyItem) ([]ItemResult, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, fmt.Errorf("%w: classifier api key is not configured", ErrPermanent)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: c.buildPrompt(items)}},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0.1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   classificationResponseSchema(),
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrPermanent, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, preview(body))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, preview(body))
	}

	var answer geminiResponse
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrPermanent, err)
	}
	if answer.Error != nil {
		return nil, fmt.Errorf("%w: api error %d: %s", ErrPermanent, answer.Error.Code, answer.Error.Message)
	}
	if len(answer.Candidates) == 0 || len(answer.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no completion returned", ErrPermanent)
	}

	var text strings.Builder
	for _, part := range answer.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return ParseClassification([]byte(text.String()))
}

// classificationResponseSchema is the structured-output contract in the
// API's uppercase schema subset.
func classificationResponseSchema() map[string]any {
	return map[string]any{
		"type": "ARRAY",
		"items": map[string]any{
			"type": "OBJECT",
			"properties": map[string]any{
				"index":        map[string]any{"type": "INTEGER"},
				"topics":       map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
				"actors":       map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
				"locations":    map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
				"language":     map[string]any{"type": "STRING"},
				"is_editorial": map[string]any{"type": "BOOLEAN"},
				"sentiment":    map[string]any{"type": "STRING", "enum": []string{"positive", "negative", "neutral"}},
			},
			"required": []string{"index", "topics", "actors", "locations"},
		},
	}
}

func (c *Classifier) buildPrompt(items []ClassifyItem) string {
	var b strings.Builder
	b.WriteString("You are an information extraction and classification engine for media monitoring.\n\n")
	b.WriteString("Analyze every article below and return structured metadata for each one.\n\n")
	b.WriteString("TOPIC RULES:\n")
	b.WriteString("- Topics are semantic concepts defined by their descriptions.\n")
	b.WriteString("- Keywords are only indicative signals and must not be used alone.\n")
	b.WriteString("- Assign a topic only when the article clearly fits its description.\n")
	b.WriteString("- One article may belong to multiple topics.\n")
	fmt.Fprintf(&b, "- Topics must be chosen only from this allowed list: [%s].\n", strings.Join(c.taxonomy.TopicNames(), ", "))
	b.WriteString("- Return an empty list when none apply.\n\n")
	b.WriteString("ACTOR RULES:\n")
	b.WriteString("- Actors include public figures, government bodies, political parties, companies, and organizations.\n")
	b.WriteString("- Use full names where possible.\n")
	b.WriteString("- Include an implied actor only when highly confident.\n\n")
	b.WriteString("OUTPUT FORMAT:\n")
	b.WriteString("Return only a JSON array with exactly one object per article:\n")
	b.WriteString(`[{"index": int, "topics": [string], "actors": [string], "locations": [string], "language": string|null, "is_editorial": boolean|null, "sentiment": "positive"|"negative"|"neutral"}]`)
	b.WriteString("\nThe index field must echo the article's index below.\n\n")

	b.WriteString("TAXONOMY:\n")
	for _, name := range c.taxonomy.TopicNames() {
		def := c.taxonomy.Topics[name]
		fmt.Fprintf(&b, "- %s\n", name)
		if desc := strings.TrimSpace(def.Description); desc != "" {
			fmt.Fprintf(&b, "  Description: %s\n", desc)
		}
		if len(def.Keywords) > 0 {
			fmt.Fprintf(&b, "  Indicative keywords: %s\n", strings.Join(def.Keywords, ", "))
		}
	}
	if len(c.taxonomy.Actors) > 0 {
		fmt.Fprintf(&b, "\nSEED ACTORS (reference only, not exhaustive):\n%s\n", strings.Join(c.taxonomy.Actors, ", "))
	}

	b.WriteString("\nARTICLES:\n")
	for _, item := range items {
		fmt.Fprintf(&b, "\n--- Article index %d ---\n", item.Index)
		fmt.Fprintf(&b, "Platform: %s\n", item.Platform)
		fmt.Fprintf(&b, "Source type: %s\n", item.SourceType)
		fmt.Fprintf(&b, "Publisher: %s\n", item.Publisher)
		fmt.Fprintf(&b, "URL: %s\n", item.URL)
		fmt.Fprintf(&b, "Title: %s\n", item.Title)
		if item.Summary != "" {
			fmt.Fprintf(&b, "Summary:\n%s\n", item.Summary)
		}
		if item.FullText != "" {
			fmt.Fprintf(&b, "Full content:\n%s\n", truncateChars(item.FullText, maxContentChars))
		}
	}
	return b.String()
}

func truncateChars(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func preview(body []byte) string {
	if len(body) > classifierErrorPreview {
		body = body[:classifierErrorPreview]
	}
	return string(bytes.TrimSpace(body))
}
