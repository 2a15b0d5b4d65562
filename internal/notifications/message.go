package notifications

import (
	"fmt"
	"strings"

	"newsrelay/internal/analysis"
	"newsrelay/internal/envelope"
)

const maxFacts = 3

// Message is the channel-neutral form of an analyzed article.
type Message struct {
	// Key identifies the article for upstream confirmation.
	Key         string
	Title       string
	URL         string
	Source      string
	PublishedAt string
	Summary     string
	Tags        []string
	Sentiment   string
	Confidence  float64
	Facts       []string
	Entities    []string
}

// BuildMessage formats an analyzed envelope.
func BuildMessage(env envelope.ArticleEnvelope, result analysis.Result) Message {
	facts := result.Facts
	if len(facts) > maxFacts {
		facts = facts[:maxFacts]
	}
	source := env.Meta(envelope.MetaPublication)
	if source == "" {
		source = env.Source
	}
	return Message{
		Key:         env.ID,
		Title:       env.Title(),
		URL:         env.Meta(envelope.MetaURL),
		Source:      source,
		PublishedAt: env.Meta(envelope.MetaPublishedAt),
		Summary:     result.Summary,
		Tags:        result.Tags,
		Sentiment:   result.Sentiment,
		Confidence:  result.Confidence,
		Facts:       facts,
		Entities:    result.Entities,
	}
}

// SentimentLabel renders the sentiment for humans.
func (m Message) SentimentLabel() string {
	switch m.Sentiment {
	case analysis.SentimentPositive:
		return "Positive 📈"
	case analysis.SentimentNegative:
		return "Negative 📉"
	default:
		return "Neutral"
	}
}

// PlainText renders the message for text-only channels.
func (m Message) PlainText() string {
	var b strings.Builder
	b.WriteString(m.Summary)
	if len(m.Tags) > 0 {
		fmt.Fprintf(&b, "\n\nTopics: %s", strings.Join(m.Tags, ", "))
	}
	fmt.Fprintf(&b, "\nSentiment: %s (confidence %.2f)", m.SentimentLabel(), m.Confidence)
	if len(m.Facts) > 0 {
		b.WriteString("\nKey facts:")
		for _, fact := range m.Facts {
			fmt.Fprintf(&b, "\n• %s", fact)
		}
	}
	if len(m.Entities) > 0 {
		fmt.Fprintf(&b, "\nRelated: %s", strings.Join(m.Entities, ", "))
	}
	if m.Source != "" {
		fmt.Fprintf(&b, "\nSource: %s", m.Source)
	}
	if m.URL != "" {
		fmt.Fprintf(&b, "\n%s", m.URL)
	}
	return b.String()
}
