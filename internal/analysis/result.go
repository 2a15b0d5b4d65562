package analysis

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"newsrelay/internal/services"
	"newsrelay/internal/stage"
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

const maxListItems = 10

// Response is a provider answer before validation. Confidence is a pointer
// so a missing field can be told apart from zero.
type Response struct {
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	Confidence *float64 `json:"confidence"`
	Sentiment  string   `json:"sentiment,omitempty"`
	Facts      []string `json:"facts,omitempty"`
	Entities   []string `json:"entities,omitempty"`
}

// Result is the validated analysis of one envelope.
type Result struct {
	EnvelopeID string    `json:"envelope_id"`
	Summary    string    `json:"summary"`
	Tags       []string  `json:"tags"`
	Confidence float64   `json:"confidence"`
	Sentiment  string    `json:"sentiment"`
	Facts      []string  `json:"facts"`
	Entities   []string  `json:"entities"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Validate checks the provider answer shape.
func (r Response) Validate() error {
	var problems []string
	if strings.TrimSpace(r.Summary) == "" {
		problems = append(problems, "summary missing")
	}
	if r.Tags == nil {
		problems = append(problems, "tags missing")
	}
	switch {
	case r.Confidence == nil:
		problems = append(problems, "confidence missing")
	case *r.Confidence < 0 || *r.Confidence > 1:
		problems = append(problems, fmt.Sprintf("confidence %.3f outside [0,1]", *r.Confidence))
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrMalformedResponse, stage.Analysis, "validate", strings.Join(problems, "; "), nil)
}

// NormalizeTags trims, lower-cases, deduplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.Join(strings.Fields(tag), " "))
		if tag != "" {
			out = append(out, tag)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// NormalizeSentiment maps free-form labels onto positive, neutral or negative.
func NormalizeSentiment(raw string) string {
	switch label := strings.ToLower(strings.TrimSpace(raw)); {
	case strings.HasPrefix(label, "pos"):
		return SentimentPositive
	case strings.HasPrefix(label, "neg"):
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

// Marshal encodes the result for the processing record.
func (r Result) Marshal() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode analysis result: %w", err)
	}
	return string(data), nil
}

// ParseResult decodes a result persisted with Marshal.
func ParseResult(raw string) (Result, error) {
	var result Result
	if strings.TrimSpace(raw) == "" {
		return result, fmt.Errorf("analysis result is empty")
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("decode analysis result: %w", err)
	}
	return result, nil
}
