package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultNarrativeBaseURL = "https://api.perplexity.ai"
	narrativeTemperature    = 0.2
	narrativeMaxTokens      = 1400
	narrativeErrorPreview   = 1024
)

// Narrative is one deep-dive answer: synthesis text plus the source URLs
// the model cited.
type Narrative struct {
	Text      string
	Citations []string
}

// NarrativeClient asks an OpenAI-compatible chat-completions endpoint with
// web search (Perplexity Sonar shape) for a short synthesis of one topic.
type NarrativeClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewNarrativeClient(apiKey, model string, timeout time.Duration) *NarrativeClient {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &NarrativeClient{
		apiKey:  apiKey,
		baseURL: defaultNarrativeBaseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Temperature         float64       `json:"temperature"`
	MaxTokens           int           `json:"max_tokens"`
	SearchRecencyFilter string        `json:"search_recency_filter,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// TopicNarrative requests one synthesis. The urls anchor the model on the
// records the report already selected; recency narrows its search window.
func (c *NarrativeClient) TopicNarrative(ctx context.Context, topic, recency string, urls []string) (*Narrative, error) {
	if c == nil {
		return nil, fmt.Errorf("narrative client is nil")
	}
	if strings.TrimSpace(c.apiKey) == "" || strings.TrimSpace(c.model) == "" {
		return nil, fmt.Errorf("narrative client misconfigured")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a media analyst. Write concise, factual syntheses of Indonesian news coverage. Answer in English."},
			{Role: "user", Content: narrativePrompt(topic, urls)},
		},
		Temperature:         narrativeTemperature,
		MaxTokens:           narrativeMaxTokens,
		SearchRecencyFilter: recency,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal narrative request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build narrative request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request narrative: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read narrative response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		preview := payload
		if len(preview) > narrativeErrorPreview {
			preview = preview[:narrativeErrorPreview]
		}
		return nil, fmt.Errorf("narrative error %s: %s", resp.Status, strings.TrimSpace(string(preview)))
	}

	var answer chatResponse
	if err := json.Unmarshal(payload, &answer); err != nil {
		return nil, fmt.Errorf("parse narrative response: %w", err)
	}
	if len(answer.Choices) == 0 {
		return nil, fmt.Errorf("narrative response carried no choices")
	}

	return &Narrative{
		Text:      strings.TrimSpace(answer.Choices[0].Message.Content),
		Citations: answer.Citations,
	}, nil
}

func narrativePrompt(topic string, urls []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the current Indonesian media coverage of the topic %q.\n\n", topic)
	if len(urls) > 0 {
		b.WriteString("Ground the synthesis on these monitored articles:\n")
		for _, u := range urls {
			fmt.Fprintf(&b, "- %s\n", u)
		}
		b.WriteString("\n")
	}
	b.WriteString("Answer with 3 to 5 bullet points covering the key developments, the main actors involved, and the overall tone of the coverage.")
	return b.String()
}
