package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"newsrelay/internal/config"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
)

const feedUserAgent = "newsrelay/1.0"

// FeedSource reads a licensed stream over the feed's JSON HTTP API.
type FeedSource struct {
	baseURL      string
	streamID     string
	apiKey       string
	clientID     string
	clientSecret string
	client       *http.Client
}

// NewFeedSource builds a FeedSource from the source configuration.
func NewFeedSource(cfg config.Source, client *http.Client) (*FeedSource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.StreamID) == "" {
		return nil, services.Wrap(services.ErrConfiguration, stage.Ingest, "configure", "source base_url and stream_id are required", nil)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, stage.Ingest, "configure", "source api_key is required", nil)
	}
	if client == nil {
		timeout := time.Duration(cfg.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &FeedSource{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		streamID:     strings.TrimSpace(cfg.StreamID),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		client:       client,
	}, nil
}

type feedResponse struct {
	Data       []map[string]any `json:"data"`
	Documents  []map[string]any `json:"documents"`
	NextCursor string           `json:"next_cursor"`
}

// Fetch requests up to limit documents after cursor.
func (f *FeedSource) Fetch(ctx context.Context, cursor string, limit int) (Batch, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	endpoint := fmt.Sprintf("%s/streams/%s/documents", f.baseURL, url.PathEscape(f.streamID))
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Batch{}, services.Wrap(services.ErrConfiguration, stage.Ingest, "fetch", "invalid feed url", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", feedUserAgent)
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	if f.clientID != "" {
		req.Header.Set("X-Client-Id", f.clientID)
	}
	if f.clientSecret != "" {
		req.Header.Set("X-Client-Secret", f.clientSecret)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Batch{}, services.Wrap(services.ErrTransientSource, stage.Ingest, "fetch", "feed unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Batch{}, classifyFeedStatus(resp, strings.TrimSpace(string(body)))
	}

	var payload feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Batch{}, services.Wrap(services.ErrTransientSource, stage.Ingest, "fetch", "feed read interrupted", err)
		}
		return Batch{}, services.Wrap(services.ErrTransientSource, stage.Ingest, "fetch", "undecodable feed response", err)
	}
	docs := payload.Data
	if len(docs) == 0 {
		docs = payload.Documents
	}
	batch := Batch{Items: make([]Item, 0, len(docs)), Cursor: payload.NextCursor}
	for _, doc := range docs {
		batch.Items = append(batch.Items, normalizeDocument(doc))
	}
	return batch, nil
}

func classifyFeedStatus(resp *http.Response, body string) error {
	detail := fmt.Sprintf("feed returned %d", resp.StatusCode)
	if body != "" {
		detail += ": " + body
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), Detail: detail}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, stage.Ingest, "fetch", "feed rejected credentials", errors.New(detail))
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusRequestTimeout:
		return services.Wrap(services.ErrTransientSource, stage.Ingest, "fetch", detail, nil)
	default:
		return services.Wrap(services.ErrConfiguration, stage.Ingest, "fetch", detail, nil)
	}
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// HealthCheck reports whether the feed is configured.
func (f *FeedSource) HealthCheck(context.Context) stage.Health {
	return stage.Health{Name: stage.Ingest, Ready: true, Detail: f.baseURL + "/streams/" + f.streamID}
}
