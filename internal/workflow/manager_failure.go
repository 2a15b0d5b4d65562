package workflow

import (
	"context"

	"newsrelay/internal/deadletter"
	"newsrelay/internal/logging"
	"newsrelay/internal/services"
	"newsrelay/internal/state"
)

// handleStageFailure classifies a failed attempt. retry is true when the
// caller should wait outcome.Delay and try again in process.
func (inv *invocation) handleStageFailure(ctx context.Context, stg pipelineStage, attempt int, stageErr error) (Outcome, bool) {
	kind := services.KindOf(stageErr)
	logger := inv.logger.With(
		logging.String(logging.FieldStage, stg.name),
		logging.Int(logging.FieldAttempt, attempt),
		logging.String(logging.FieldErrorKind, string(kind)),
	)
	inv.recordAttempt(ctx, stg.name, attempt, state.StatusFailed, stageErr)

	switch kind {
	case services.KindConfiguration:
		// Recorded for operators without touching the attempt budget.
		inv.rec.LastError = stageErr.Error()
		inv.rec.LastErrorKind = string(kind)
		if written, ok := inv.write(ctx); !ok {
			logging.WarnWithContext(logger, "configuration error not recorded on envelope", "configuration_record_failed",
				logging.Error(written.Err),
				logging.String(logging.FieldErrorHint, "check the state database"),
			)
		}
		logging.ErrorWithContext(logger, "configuration error; consumer stopping", "configuration_abort",
			logging.Error(stageErr),
			logging.Alert("configuration"),
			logging.String(logging.FieldErrorHint, services.Hint(kind)),
		)
		return Outcome{Action: ActionAbort, EnvelopeID: inv.rec.EnvelopeID, Status: inv.rec.Status, Err: stageErr}, false
	case services.KindMalformedData:
		inv.rec.AttemptCount = attempt
		return inv.deadLetter(ctx, stageErr), false
	}

	inv.rec.AttemptCount = attempt
	inv.rec.LastError = stageErr.Error()
	inv.rec.LastErrorKind = string(kind)
	budget := inv.p.policy.Budget(kind)
	if attempt >= budget {
		logger.Warn("retry budget exhausted",
			logging.Args(append(logging.DecisionAttrs("retry_budget", "dead_letter", "attempts exhausted"),
				logging.Int("budget", budget),
				logging.Error(stageErr),
				logging.String(logging.FieldEventType, "retry_exhausted"),
			)...)...,
		)
		return inv.deadLetter(ctx, stageErr), false
	}
	if outcome, ok := inv.write(ctx); !ok {
		return outcome, false
	}

	delay, inProcess := inv.retryDelay(attempt)
	logging.WarnWithContext(logger, "stage attempt failed", "stage_failure",
		logging.Error(stageErr),
		logging.Int("budget", budget),
		logging.Duration("retry_in", delay),
		logging.Bool("in_process", inProcess),
		logging.String(logging.FieldErrorHint, services.Hint(kind)),
	)
	outcome := Outcome{Action: ActionNack, Delay: delay, EnvelopeID: inv.rec.EnvelopeID, Status: inv.rec.Status, Err: stageErr}
	return outcome, inProcess
}

// deadLetter quarantines the envelope, marks it DeadLettered and acks.
func (inv *invocation) deadLetter(ctx context.Context, cause error) Outcome {
	id := inv.rec.EnvelopeID
	attempts, err := inv.p.store.ListAttempts(ctx, id)
	if err != nil {
		logging.WarnWithContext(inv.logger, "attempt history unavailable for dead letter", "attempt_history_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database"),
		)
	}
	if inv.p.deadLetters == nil {
		return Outcome{
			Action:     ActionAbort,
			EnvelopeID: id,
			Status:     inv.rec.Status,
			Err:        services.Wrap(services.ErrConfiguration, "pipeline", "dead_letter", "no dead-letter handler configured", cause),
		}
	}
	if err := inv.p.deadLetters.Quarantine(ctx, deadletter.Entry{
		EnvelopeID:   id,
		Payload:      inv.delivery.Body,
		LastError:    cause,
		AttemptCount: inv.rec.AttemptCount,
		Attempts:     attempts,
	}); err != nil {
		return inv.p.storeUnavailable(inv.logger, id, err)
	}

	inv.rec.Status = state.StatusDeadLettered
	inv.rec.LastError = cause.Error()
	inv.rec.LastErrorKind = string(services.KindOf(cause))
	if outcome, ok := inv.write(ctx); !ok {
		return outcome
	}
	return Outcome{Action: ActionAck, EnvelopeID: id, Status: state.StatusDeadLettered, Err: cause}
}
