package storage

import (
	"context"
	"errors"
	"log/slog"

	"newsrelay/internal/analysis"
	"newsrelay/internal/envelope"
	"newsrelay/internal/logging"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
)

const defaultConflictRetries = 3

// Stage persists analysis results idempotently.
type Stage struct {
	backend Backend
	retries int
	logger  *slog.Logger
}

// NewStage builds the storage stage. conflictRetries bounds how many fresh
// read-modify-write cycles follow a version conflict.
func NewStage(backend Backend, conflictRetries int, logger *slog.Logger) *Stage {
	if conflictRetries < 0 {
		conflictRetries = defaultConflictRetries
	}
	return &Stage{
		backend: backend,
		retries: conflictRetries,
		logger:  logging.NewComponentLogger(logger, stage.Storage),
	}
}

// Run upserts the record for env. Identical stored content is returned
// unchanged without a write.
func (s *Stage) Run(ctx context.Context, env envelope.ArticleEnvelope, result analysis.Result) (Record, error) {
	if s.backend == nil {
		return Record{}, services.Wrap(services.ErrConfiguration, stage.Storage, "run", "no storage backend configured", nil)
	}
	logger := logging.WithContext(ctx, s.logger)
	rec := NewRecord(env, result)

	var lastErr error
	for cycle := 0; cycle <= s.retries; cycle++ {
		existing, found, err := s.backend.Get(ctx, env.ID)
		if err != nil {
			return Record{}, services.Wrap(services.ErrServiceUnavailable, stage.Storage, "read", "", err)
		}
		if found && existing.ContentHash == rec.ContentHash {
			logger.Debug("stored content unchanged",
				logging.String(logging.FieldDecisionType, "storage_noop"),
				logging.Int64("version", existing.Version),
			)
			return existing, nil
		}
		var expected int64
		if found {
			expected = existing.Version
		}
		version, err := s.backend.Upsert(ctx, env.ID, rec, expected)
		if err == nil {
			rec.Version = version
			logger.Debug("article stored", logging.Int64("version", version))
			return rec, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Record{}, services.Wrap(services.ErrServiceUnavailable, stage.Storage, "upsert", "", err)
		}
		lastErr = err
		logger.Info("storage write conflict, re-reading",
			logging.String(logging.FieldDecisionType, "storage_conflict_retry"),
			logging.Int("cycle", cycle+1),
		)
	}
	return Record{}, services.Wrap(services.ErrWriteConflict, stage.Storage, "upsert", "conflict retries exhausted", lastErr)
}

// HealthCheck reports whether the backend answers a read.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.backend == nil {
		return stage.Unhealthy(stage.Storage, "no backend")
	}
	if _, _, err := s.backend.Get(ctx, "health-check"); err != nil {
		return stage.Unhealthy(stage.Storage, err.Error())
	}
	return stage.Healthy(stage.Storage)
}
