package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"newsrelay/internal/envelope"
	"newsrelay/internal/logging"
	"newsrelay/internal/queue"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
	"newsrelay/internal/state"
)

// CheckpointStore persists the producer position.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, name string) (state.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp state.Checkpoint) (state.Checkpoint, error)
}

// Publisher is the queue side the producer writes to.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Outgoing) error
}

// ProducerOptions tunes a Producer. Zero values take defaults.
type ProducerOptions struct {
	// SourceName labels envelopes and names the checkpoint.
	SourceName string
	BatchSize  int
	// MaxFetchAttempts bounds fetch retries within one poll.
	MaxFetchAttempts int
	// RetryBase is the first fetch retry delay.
	RetryBase time.Duration
	RetryMax  time.Duration
	// Cooldown is the minimum pause after a rate-limit response.
	Cooldown time.Duration
	Now      func() time.Time
}

func (o ProducerOptions) withDefaults() ProducerOptions {
	if o.SourceName == "" {
		o.SourceName = "feed"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxFetchAttempts <= 0 {
		o.MaxFetchAttempts = 4
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 30 * time.Second
	}
	if o.Cooldown <= 0 {
		o.Cooldown = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// PollResult summarizes one poll.
type PollResult struct {
	Fetched   int       `json:"fetched"`
	Published int       `json:"published"`
	Skipped   int       `json:"skipped"`
	Cursor    string    `json:"cursor"`
	TraceID   string    `json:"trace_id"`
	At        time.Time `json:"at"`
}

// Producer fetches from a Source and publishes envelopes.
type Producer struct {
	source     Source
	publisher  Publisher
	checkpoint CheckpointStore
	opts       ProducerOptions
	logger     *slog.Logger

	mu      sync.Mutex
	last    PollResult
	lastErr error
}

// NewProducer wires a producer.
func NewProducer(source Source, publisher Publisher, checkpoints CheckpointStore, opts ProducerOptions, logger *slog.Logger) *Producer {
	return &Producer{
		source:     source,
		publisher:  publisher,
		checkpoint: checkpoints,
		opts:       opts.withDefaults(),
		logger:     logging.NewComponentLogger(logger, "producer"),
	}
}

// CheckpointName is the checkpoint key for this producer.
func (p *Producer) CheckpointName() string {
	return "producer:" + p.opts.SourceName
}

// Poll runs one fetch-publish-checkpoint cycle.
func (p *Producer) Poll(ctx context.Context) (PollResult, error) {
	result, err := p.poll(ctx)
	p.mu.Lock()
	p.last = result
	p.lastErr = err
	p.mu.Unlock()
	return result, err
}

func (p *Producer) poll(ctx context.Context) (PollResult, error) {
	traceID := uuid.NewString()
	ctx = services.WithTraceID(services.WithStage(ctx, stage.Ingest), traceID)
	logger := logging.WithContext(ctx, p.logger)
	now := p.opts.Now()
	result := PollResult{TraceID: traceID, At: now}

	cp, err := p.checkpoint.GetCheckpoint(ctx, p.CheckpointName())
	if err != nil {
		return result, services.Wrap(services.ErrServiceUnavailable, stage.Ingest, "checkpoint", "load checkpoint", err)
	}
	cp.Name = p.CheckpointName()
	result.Cursor = cp.Cursor
	if cp.CoolingDown(now) {
		logger.Info("source cooling down",
			logging.String(logging.FieldDecisionType, "rate_limit_cooldown"),
			logging.Time("cooldown_until", *cp.CooldownUntil),
		)
		return result, services.Wrap(services.ErrRateLimited, stage.Ingest, "poll", fmt.Sprintf("cooling down until %s", cp.CooldownUntil.Format(time.RFC3339)), nil)
	}

	batch, err := p.fetch(ctx, cp.Cursor)
	if err != nil {
		var rl *RateLimitError
		if errors.As(err, &rl) {
			return result, p.startCooldown(ctx, cp, rl)
		}
		return result, err
	}
	result.Fetched = len(batch.Items)

	fetchedAt := p.opts.Now().UTC()
	for _, item := range batch.Items {
		env, err := item.Envelope(p.opts.SourceName, fetchedAt)
		if err != nil {
			result.Skipped++
			logging.WarnWithContext(logger, "skipping unusable feed document", "feed_document_skipped",
				logging.String("native_id", item.NativeID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "document has no id or body"),
			)
			continue
		}
		body, err := envelope.Encode(envelope.QueueMessage{Envelope: env, TraceID: traceID})
		if err != nil {
			return result, err
		}
		if err := p.publisher.Publish(ctx, queue.Outgoing{Body: body, TraceID: traceID}); err != nil {
			return result, services.Wrap(services.ErrServiceUnavailable, stage.Ingest, "publish", "publish envelope "+env.ID, err)
		}
		result.Published++
	}

	cursor := batch.Cursor
	if cursor == "" {
		cursor = cp.Cursor
	}
	if cursor != cp.Cursor || cp.CooldownUntil != nil || cp.Version == 0 {
		cp.Cursor = cursor
		cp.CooldownUntil = nil
		if _, err := p.checkpoint.SaveCheckpoint(ctx, cp); err != nil {
			if errors.Is(err, state.ErrVersionConflict) {
				return result, services.Wrap(services.ErrWriteConflict, stage.Ingest, "checkpoint", "another producer advanced the checkpoint", err)
			}
			return result, services.Wrap(services.ErrServiceUnavailable, stage.Ingest, "checkpoint", "save checkpoint", err)
		}
	}
	result.Cursor = cursor
	logger.Info("poll complete",
		logging.String(logging.FieldEventType, "poll_complete"),
		logging.Int("fetched", result.Fetched),
		logging.Int("published", result.Published),
		logging.Int("skipped", result.Skipped),
		logging.String("cursor", cursor),
	)
	return result, nil
}

func (p *Producer) fetch(ctx context.Context, cursor string) (Batch, error) {
	logger := logging.WithContext(ctx, p.logger)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.opts.RetryBase
	policy.MaxInterval = p.opts.RetryMax
	policy.MaxElapsedTime = 0

	var (
		batch   Batch
		attempt int
	)
	op := func() error {
		attempt++
		var err error
		batch, err = p.source.Fetch(ctx, cursor, p.opts.BatchSize)
		if err == nil {
			return nil
		}
		if errors.Is(err, services.ErrTransientSource) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logging.WarnWithContext(logger, "feed fetch failed; retrying", "fetch_retry",
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("wait", wait),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(services.KindOf(err))),
		)
	}
	retries := uint64(p.opts.MaxFetchAttempts - 1)
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), notify)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return Batch{}, err
	}
	return batch, nil
}

func (p *Producer) startCooldown(ctx context.Context, cp state.Checkpoint, rl *RateLimitError) error {
	wait := p.opts.Cooldown
	if rl.RetryAfter > wait {
		wait = rl.RetryAfter
	}
	until := p.opts.Now().Add(wait).UTC()
	cp.CooldownUntil = &until
	logging.WarnWithContext(logging.WithContext(ctx, p.logger), "source rate limited", "rate_limited",
		logging.Duration("cooldown", wait),
		logging.Time("cooldown_until", until),
		logging.String(logging.FieldErrorHint, services.Hint(services.KindRateLimited)),
	)
	if _, err := p.checkpoint.SaveCheckpoint(ctx, cp); err != nil {
		return errors.Join(rl, fmt.Errorf("persist cooldown: %w", err))
	}
	return rl
}

// Run polls every interval until ctx is done. A configuration error stops
// the loop and is returned.
func (p *Producer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.Poll(ctx); err != nil {
			switch services.KindOf(err) {
			case services.KindConfiguration:
				logging.ErrorWithContext(p.logger, "producer stopped: configuration error", "producer_stopped",
					logging.Error(err),
					logging.Alert("configuration"),
					logging.String(logging.FieldErrorHint, services.Hint(services.KindConfiguration)),
				)
				return err
			case services.KindRateLimited:
				p.logger.Debug("poll skipped", logging.Error(err))
			default:
				if ctx.Err() == nil {
					logging.WarnWithContext(p.logger, "poll failed", "poll_failed",
						logging.Error(err),
						logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
						logging.String(logging.FieldErrorHint, services.Hint(services.KindOf(err))),
					)
				}
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Last returns the most recent poll result and error.
func (p *Producer) Last() (PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastErr
}

// HealthCheck reports the source health when the source supports it.
func (p *Producer) HealthCheck(ctx context.Context) stage.Health {
	if checker, ok := p.source.(stage.Checker); ok {
		return checker.HealthCheck(ctx)
	}
	return stage.Healthy(stage.Ingest)
}
