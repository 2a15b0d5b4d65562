package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"newsrelay/internal/envelope"
	"newsrelay/internal/logging"
	"newsrelay/internal/queue"
	"newsrelay/internal/services"
	"newsrelay/internal/state"
)

// Pipeline handles single deliveries. It holds no per-message state, so one
// Pipeline serves any number of concurrent consumers.
type Pipeline struct {
	store       StateStore
	stages      StageSet
	deadLetters Quarantiner
	policy      Policy
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// PipelineOption configures optional Pipeline behavior.
type PipelineOption func(*Pipeline)

// WithClock replaces the wall clock used for deadlines and backoff.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleeper replaces the in-process backoff wait.
func WithSleeper(sleep func(context.Context, time.Duration) error) PipelineOption {
	return func(p *Pipeline) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// NewPipeline wires the orchestrator.
func NewPipeline(store StateStore, stages StageSet, deadLetters Quarantiner, policy Policy, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:       store,
		stages:      stages,
		deadLetters: deadLetters,
		policy:      policy.withDefaults(),
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the effective retry policy.
func (p *Pipeline) Policy() Policy {
	return p.policy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// invocation carries the state of one Handle call.
type invocation struct {
	p        *Pipeline
	delivery *queue.Delivery
	env      envelope.ArticleEnvelope
	rec      *state.ProcessingRecord
	traceID  string
	deadline time.Time
	logger   *slog.Logger
}

// Handle processes one delivery and reports what to do with it. It never
// touches the queue.
func (p *Pipeline) Handle(ctx context.Context, d *queue.Delivery) Outcome {
	ctx, cancel := context.WithTimeout(ctx, p.policy.InvocationDeadline)
	defer cancel()
	deadline := p.now().Add(p.policy.InvocationDeadline)

	msg, err := envelope.Decode(d.Body)
	if err != nil {
		return p.handleMalformed(ctx, d, deadline, err)
	}
	traceID := d.TraceID
	if traceID == "" {
		traceID = msg.TraceID
	}
	env := msg.Envelope
	ctx = services.WithEnvelopeID(services.WithTraceID(ctx, traceID), env.ID)
	logger := logging.WithContext(ctx, p.logger).With(logging.Int(logging.FieldDeliveryAttempt, d.DeliveryAttempt))

	rec, created, err := p.store.CreateRecord(ctx, env.ID)
	if err != nil {
		return p.storeUnavailable(logger, env.ID, err)
	}
	if !created && rec.Status.Terminal() {
		logger.Info("duplicate delivery acknowledged",
			logging.Args(logging.DecisionAttrs("duplicate_delivery", "ack", "envelope already "+string(rec.Status))...)...,
		)
		return Outcome{Action: ActionAck, EnvelopeID: env.ID, Status: rec.Status, Duplicate: true}
	}
	if !created {
		if wait, busy := p.inProgress(rec); busy {
			logger.Info("stage in progress elsewhere; deferring",
				logging.Args(logging.DecisionAttrs("stage_in_progress", "nack", "record "+string(rec.Status)+" updated recently")...)...,
			)
			return Outcome{Action: ActionNack, Delay: wait, EnvelopeID: env.ID, Status: rec.Status}
		}
	}

	inv := &invocation{
		p:        p,
		delivery: d,
		env:      env,
		rec:      rec,
		traceID:  traceID,
		deadline: deadline,
		logger:   logger,
	}
	return inv.run(ctx)
}

// inProgress reports whether another consumer is likely mid-stage on rec: it
// sits in a processing status with no failure recorded and was touched
// within one stage timeout.
func (p *Pipeline) inProgress(rec *state.ProcessingRecord) (time.Duration, bool) {
	stg, ok := stageForStatus(rec.Status)
	if !ok || rec.Status != stg.processingStatus || rec.LastError != "" {
		return 0, false
	}
	age := p.now().Sub(rec.UpdatedAt)
	if age < 0 || age >= p.policy.StageTimeout {
		return 0, false
	}
	return p.policy.StageTimeout - age, true
}

func (p *Pipeline) storeUnavailable(logger *slog.Logger, envelopeID string, err error) Outcome {
	wrapped := services.Wrap(services.ErrServiceUnavailable, "state", "write", "state store unavailable", err)
	logging.WarnWithContext(logger, "state store unavailable; message returned", "state_store_unavailable",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the state database"),
	)
	return Outcome{Action: ActionNack, Delay: p.policy.Backoff(1), EnvelopeID: envelopeID, Err: wrapped}
}

func (p *Pipeline) handleMalformed(ctx context.Context, d *queue.Delivery, deadline time.Time, cause error) Outcome {
	// Keyed by content so a broken payload never touches the record of the
	// envelope whose id it claims.
	id := envelope.ContentID(d.Body)
	ctx = services.WithEnvelopeID(services.WithTraceID(ctx, d.TraceID), id)
	logger := logging.WithContext(ctx, p.logger).With(logging.Int(logging.FieldDeliveryAttempt, d.DeliveryAttempt))
	if claimed := envelope.PeekID(d.Body); claimed != id {
		logger = logger.With(logging.String("claimed_envelope_id", claimed))
	}

	rec, created, err := p.store.CreateRecord(ctx, id)
	if err != nil {
		return p.storeUnavailable(logger, id, err)
	}
	if !created && rec.Status.Terminal() {
		logger.Info("duplicate malformed delivery acknowledged",
			logging.Args(logging.DecisionAttrs("duplicate_delivery", "ack", "envelope already "+string(rec.Status))...)...,
		)
		return Outcome{Action: ActionAck, EnvelopeID: id, Status: rec.Status, Duplicate: true}
	}
	inv := &invocation{
		p:        p,
		delivery: d,
		rec:      rec,
		traceID:  d.TraceID,
		deadline: deadline,
		logger:   logger,
	}
	inv.recordAttempt(ctx, "decode", rec.AttemptCount+1, state.StatusFailed, cause)
	rec.AttemptCount++
	return inv.deadLetter(ctx, cause)
}

func (inv *invocation) run(ctx context.Context) Outcome {
	for !inv.rec.Status.Terminal() {
		stg, ok := stageForStatus(inv.rec.Status)
		if !ok {
			cause := services.Wrap(services.ErrMalformedData, "pipeline", "resume", "record in unexpected status "+string(inv.rec.Status), nil)
			return inv.deadLetter(ctx, cause)
		}
		if outcome, done := inv.runStage(ctx, stg); !done {
			return outcome
		}
	}
	inv.logger.Info("envelope completed",
		logging.String(logging.FieldEventType, "envelope_completed"),
		logging.String("status", string(inv.rec.Status)),
	)
	return Outcome{Action: ActionAck, EnvelopeID: inv.rec.EnvelopeID, Status: inv.rec.Status}
}

// write persists rec and turns a failed write into the outcome to return.
func (inv *invocation) write(ctx context.Context) (Outcome, bool) {
	err := inv.p.store.UpdateRecord(ctx, inv.rec)
	if err == nil {
		return Outcome{}, true
	}
	if errors.Is(err, state.ErrVersionConflict) {
		inv.logger.Info("lost state race; message returned",
			logging.Args(logging.DecisionAttrs("version_conflict", "nack", "another consumer advanced the record")...)...,
		)
		return Outcome{
			Action:     ActionNack,
			Delay:      inv.p.policy.Backoff(1),
			EnvelopeID: inv.rec.EnvelopeID,
			Status:     inv.rec.Status,
			Err:        services.Wrap(services.ErrWriteConflict, "state", "update", "", err),
		}, false
	}
	return inv.p.storeUnavailable(inv.logger, inv.rec.EnvelopeID, err), false
}

func (inv *invocation) recordAttempt(ctx context.Context, stageName string, attempt int, status state.Status, cause error) {
	entry := state.AttemptEntry{
		EnvelopeID:      inv.rec.EnvelopeID,
		Attempt:         attempt,
		Stage:           stageName,
		Status:          status,
		DeliveryAttempt: inv.delivery.DeliveryAttempt,
		TraceID:         inv.traceID,
		At:              inv.p.now().UTC(),
	}
	if cause != nil {
		entry.ErrorKind = string(services.KindOf(cause))
		entry.Error = cause.Error()
	}
	if err := inv.p.store.AppendAttempt(ctx, entry); err != nil {
		logging.WarnWithContext(inv.logger, "failed to record attempt history", "attempt_history_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database"),
		)
	}
}
