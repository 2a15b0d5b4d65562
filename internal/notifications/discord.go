package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"newsrelay/internal/analysis"
	"newsrelay/internal/config"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
)

const (
	colourNeutral  = 0x0099FF
	colourPositive = 0x00FF00
	colourNegative = 0xFF0000

	discordDescriptionLimit = 4096
	discordFieldLimit       = 1024
)

// Discord posts embeds to a webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord builds a webhook channel.
func NewDiscord(webhookURL string, client *http.Client) *Discord {
	if client == nil {
		client = http.DefaultClient
	}
	return &Discord{webhookURL: strings.TrimSpace(webhookURL), client: client}
}

func (d *Discord) Name() string { return config.ChannelDiscord }

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
	Fields      []discordField `json:"fields"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func buildEmbed(msg Message) discordEmbed {
	embed := discordEmbed{
		Title:       clip(msg.Title, 256),
		Description: clip(msg.Summary, discordDescriptionLimit),
		URL:         msg.URL,
		Color:       colourNeutral,
		Timestamp:   msg.PublishedAt,
		Fields:      []discordField{},
	}
	switch msg.Sentiment {
	case analysis.SentimentPositive:
		embed.Color = colourPositive
	case analysis.SentimentNegative:
		embed.Color = colourNegative
	}
	if msg.Source != "" {
		embed.Footer = &discordFooter{Text: "Source: " + msg.Source}
	}
	if len(msg.Tags) > 0 {
		embed.Fields = append(embed.Fields, discordField{Name: "Topics", Value: clip(strings.Join(msg.Tags, ", "), discordFieldLimit), Inline: true})
	}
	embed.Fields = append(embed.Fields, discordField{Name: "Sentiment", Value: msg.SentimentLabel(), Inline: true})
	if len(msg.Facts) > 0 {
		lines := make([]string, len(msg.Facts))
		for i, fact := range msg.Facts {
			lines[i] = "• " + fact
		}
		embed.Fields = append(embed.Fields, discordField{Name: "Key facts", Value: clip(strings.Join(lines, "\n"), discordFieldLimit)})
	}
	if len(msg.Entities) > 0 {
		embed.Fields = append(embed.Fields, discordField{Name: "Related", Value: clip(strings.Join(msg.Entities, ", "), discordFieldLimit)})
	}
	return embed
}

func (d *Discord) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]any{"embeds": []discordEmbed{buildEmbed(msg)}})
	if err != nil {
		return fmt.Errorf("encode discord payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stage.Notification, "send", "invalid discord webhook url", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return transportError("discord", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return statusError("discord", resp, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
