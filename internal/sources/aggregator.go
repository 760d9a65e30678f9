package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"horse.fit/mediawatch/internal/config"
	"horse.fit/mediawatch/internal/store"
)

// Aggregator pulls headline batches from a mediastack-compatible news API.
// The API reports failures in-band: a 200 response may still carry an error
// object instead of data.
type Aggregator struct {
	cfg       config.AggregatorSource
	accessKey string
	client    *http.Client
}

func NewAggregator(cfg config.AggregatorSource, accessKey string) *Aggregator {
	return &Aggregator{cfg: cfg, accessKey: accessKey, client: newHTTPClient()}
}

func (a *Aggregator) Name() string             { return "aggregator" }
func (a *Aggregator) Platform() store.Platform { return store.PlatformAggregator }

func (a *Aggregator) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	if strings.TrimSpace(a.accessKey) == "" {
		return nil, fmt.Errorf("aggregator: %w: access key is not configured", ErrUnavailable)
	}

	params := url.Values{}
	params.Set("access_key", a.accessKey)
	params.Set("limit", strconv.Itoa(a.cfg.Limit))
	params.Set("sort", "published_desc")
	if len(a.cfg.Countries) > 0 {
		params.Set("countries", strings.Join(a.cfg.Countries, ","))
	}
	if len(a.cfg.Languages) > 0 {
		params.Set("languages", strings.Join(a.cfg.Languages, ","))
	}
	if len(a.cfg.Keywords) > 0 {
		params.Set("keywords", strings.Join(a.cfg.Keywords, ","))
	}

	body, _, err := fetchBody(ctx, a.client, a.cfg.BaseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}

	var payload struct {
		Data  []json.RawMessage `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("aggregator: %w: decode response: %v", ErrUnavailable, err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("aggregator: %w: %s %s", ErrUnavailable, payload.Error.Code, payload.Error.Message)
	}
	return payload.Data, nil
}
