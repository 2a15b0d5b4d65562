package notifications

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"newsrelay/internal/analysis"
	"newsrelay/internal/config"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
)

// Ntfy publishes to an ntfy topic. Every message carries a tag derived from
// its key so Delivered can search the topic cache for it.
type Ntfy struct {
	endpoint string
	client   *http.Client
}

// NewNtfy builds an ntfy channel. topic may be a bare name or a full URL.
func NewNtfy(server, topic string, client *http.Client) *Ntfy {
	if client == nil {
		client = http.DefaultClient
	}
	topic = strings.TrimSpace(topic)
	endpoint := topic
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		endpoint = strings.TrimRight(strings.TrimSpace(server), "/") + "/" + strings.TrimLeft(topic, "/")
	}
	return &Ntfy{endpoint: endpoint, client: client}
}

func (n *Ntfy) Name() string { return config.ChannelNtfy }

func keyTag(key string) string {
	return "nr-" + key
}

func (n *Ntfy) Send(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.PlainText()))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stage.Notification, "send", "invalid ntfy endpoint", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.Title)
	tags := []string{"newspaper", keyTag(msg.Key)}
	switch msg.Sentiment {
	case analysis.SentimentPositive:
		tags = append(tags, "chart_with_upwards_trend")
	case analysis.SentimentNegative:
		tags = append(tags, "chart_with_downwards_trend")
	}
	req.Header.Set("Tags", strings.Join(tags, ","))
	if msg.URL != "" {
		req.Header.Set("Click", msg.URL)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return transportError("ntfy", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return statusError("ntfy", resp, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Delivered polls the topic cache for a message tagged with key.
func (n *Ntfy) Delivered(ctx context.Context, key string) (bool, error) {
	query := url.Values{}
	query.Set("poll", "1")
	query.Set("since", "all")
	query.Set("tags", keyTag(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"/json?"+query.Encode(), nil)
	if err != nil {
		return false, services.Wrap(services.ErrConfiguration, stage.Notification, "confirm", "invalid ntfy endpoint", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := n.client.Do(req)
	if err != nil {
		return false, transportError("ntfy", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return false, statusError("ntfy", resp, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var event struct {
			Event string   `json:"event"`
			Tags  []string `json:"tags"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if event.Event != "message" {
			continue
		}
		for _, tag := range event.Tags {
			if tag == keyTag(key) {
				return true, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return false, transportError("ntfy", err)
	}
	return false, nil
}
