package analysis

import (
	"context"
	"fmt"

	"newsrelay/internal/services"
	"newsrelay/internal/services/llm"
	"newsrelay/internal/stage"
)

// Provider is an external text-analysis capability.
type Provider interface {
	Analyze(ctx context.Context, rawContent string) (Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, rawContent string) (Response, error)

// Analyze calls f.
func (f ProviderFunc) Analyze(ctx context.Context, rawContent string) (Response, error) {
	return f(ctx, rawContent)
}

const systemPrompt = `You analyze news articles for an operations desk.
Respond with a single JSON object and nothing else, using exactly these keys:
  "summary":    string, at most 100 words
  "tags":       array of up to 3 short topic strings
  "confidence": number between 0 and 1 describing how sure you are of the analysis
  "sentiment":  one of "positive", "neutral", "negative"
  "facts":      array of key facts or figures from the article
  "entities":   array of related companies or industries`

const maxPromptRunes = 24000

// LLMProvider analyzes content with a chat completion model.
type LLMProvider struct {
	client *llm.Client
}

// NewLLMProvider wraps client.
func NewLLMProvider(client *llm.Client) *LLMProvider {
	return &LLMProvider{client: client}
}

// Analyze asks the model for the analysis JSON and decodes it. Decoding
// failures are malformed responses.
func (p *LLMProvider) Analyze(ctx context.Context, rawContent string) (Response, error) {
	if p == nil || p.client == nil {
		return Response{}, services.Wrap(services.ErrConfiguration, stage.Analysis, "analyze", "llm client not configured", nil)
	}
	content, err := p.client.CompleteJSON(ctx, systemPrompt, truncate(rawContent, maxPromptRunes))
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := llm.DecodeLLMJSON(content, &resp); err != nil {
		return Response{}, services.Wrap(services.ErrMalformedResponse, stage.Analysis, "decode", "model output is not the expected JSON", err)
	}
	return resp, nil
}

// HealthCheck verifies the model answers.
func (p *LLMProvider) HealthCheck(ctx context.Context) stage.Health {
	if p == nil || p.client == nil {
		return stage.Unhealthy(stage.Analysis, "llm client not configured")
	}
	if err := p.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stage.Analysis, fmt.Sprintf("%s: %v", p.client.Model(), err))
	}
	return stage.Healthy(stage.Analysis)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
