package analysis

import (
	"context"
	"log/slog"
	"time"

	"newsrelay/internal/envelope"
	"newsrelay/internal/logging"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
)

// Stage validates and normalizes provider output.
type Stage struct {
	provider Provider
	logger   *slog.Logger
	now      func() time.Time
}

// NewStage builds the analysis stage.
func NewStage(provider Provider, logger *slog.Logger) *Stage {
	return &Stage{
		provider: provider,
		logger:   logging.NewComponentLogger(logger, stage.Analysis),
		now:      time.Now,
	}
}

// Run analyzes env.RawContent once.
func (s *Stage) Run(ctx context.Context, env envelope.ArticleEnvelope) (Result, error) {
	if s.provider == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, stage.Analysis, "run", "no analysis provider configured", nil)
	}
	resp, err := s.provider.Analyze(ctx, env.RawContent)
	if err != nil {
		return Result{}, err
	}
	if err := resp.Validate(); err != nil {
		return Result{}, err
	}
	result := Result{
		EnvelopeID: env.ID,
		Summary:    resp.Summary,
		Tags:       NormalizeTags(resp.Tags),
		Confidence: *resp.Confidence,
		Sentiment:  NormalizeSentiment(resp.Sentiment),
		Facts:      cleanList(resp.Facts),
		Entities:   cleanList(resp.Entities),
		AnalyzedAt: s.now().UTC(),
	}
	logging.WithContext(ctx, s.logger).Debug("analysis produced",
		logging.Int("tags", len(result.Tags)),
		logging.Any("confidence", result.Confidence),
		logging.String("sentiment", result.Sentiment),
	)
	return result, nil
}

// HealthCheck delegates to the provider when it can report readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if checker, ok := s.provider.(stage.Checker); ok {
		return checker.HealthCheck(ctx)
	}
	if s.provider == nil {
		return stage.Unhealthy(stage.Analysis, "no provider")
	}
	return stage.Healthy(stage.Analysis)
}
