package workflow

import (
	"context"
	"errors"
	"time"

	"newsrelay/internal/analysis"
	"newsrelay/internal/logging"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
)

// runStage drives one stage to completion, retrying in process while the
// invocation deadline allows. done is false when the returned outcome ends
// the invocation.
func (inv *invocation) runStage(ctx context.Context, stg pipelineStage) (Outcome, bool) {
	ctx = services.WithStage(ctx, stg.name)
	logger := inv.logger.With(logging.String(logging.FieldStage, stg.name))

	resumed := inv.rec.Status == stg.processingStatus
	if inv.rec.Status == stg.startStatus {
		inv.rec.Status = stg.processingStatus
		inv.rec.AttemptCount = 0
		inv.rec.LastError = ""
		inv.rec.LastErrorKind = ""
		if outcome, ok := inv.write(ctx); !ok {
			return outcome, false
		}
	} else if resumed {
		logger.Info("resuming interrupted stage",
			logging.Args(logging.DecisionAttrs("stage_resume", string(stg.processingStatus), "record left mid-stage")...)...,
		)
	}

	var result analysis.Result
	if stg.name != stage.Analysis {
		parsed, err := analysis.ParseResult(inv.rec.AnalysisJSON)
		if err != nil {
			cause := services.Wrap(services.ErrMalformedData, stg.name, "resume", "analysis result missing from state", err)
			return inv.deadLetter(ctx, cause), false
		}
		result = parsed
	}

	for {
		if ctx.Err() != nil || !inv.p.now().Before(inv.deadline) {
			logger.Info("invocation deadline reached; message returned",
				logging.Args(logging.DecisionAttrs("deadline_reached", "nack", "no time left for another attempt")...)...,
			)
			return Outcome{Action: ActionNack, EnvelopeID: inv.rec.EnvelopeID, Status: inv.rec.Status}, false
		}

		attempt := inv.rec.AttemptCount + 1
		started := inv.p.now()
		logger.Info("stage started",
			logging.String(logging.FieldEventType, "stage_start"),
			logging.Int(logging.FieldAttempt, attempt),
		)
		analysisJSON, err := inv.call(ctx, stg, result, resumed)
		if err == nil {
			inv.recordAttempt(ctx, stg.name, attempt, stg.doneStatus, nil)
			inv.rec.Status = stg.doneStatus
			inv.rec.AttemptCount = 0
			inv.rec.LastError = ""
			inv.rec.LastErrorKind = ""
			if analysisJSON != "" {
				inv.rec.AnalysisJSON = analysisJSON
			}
			if outcome, ok := inv.write(ctx); !ok {
				return outcome, false
			}
			logger.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.String("next_status", string(stg.doneStatus)),
				logging.Duration("stage_duration", inv.p.now().Sub(started)),
			)
			return Outcome{}, true
		}

		outcome, retry := inv.handleStageFailure(ctx, stg, attempt, err)
		if !retry {
			return outcome, false
		}
		if err := inv.p.sleep(ctx, outcome.Delay); err != nil {
			return Outcome{Action: ActionNack, EnvelopeID: inv.rec.EnvelopeID, Status: inv.rec.Status, Err: err}, false
		}
		// A failed notification attempt may still have reached the channel.
		resumed = true
	}
}

// call runs the stage under the per-call timeout. For analysis it returns the
// serialized result to persist.
func (inv *invocation) call(ctx context.Context, stg pipelineStage, result analysis.Result, resumed bool) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, inv.p.policy.StageTimeout)
	defer cancel()

	var (
		analysisJSON string
		err          error
	)
	switch stg.name {
	case stage.Analysis:
		if inv.p.stages.Analysis == nil {
			return "", services.Wrap(services.ErrConfiguration, stg.name, "run", "analysis stage not configured", nil)
		}
		var res analysis.Result
		res, err = inv.p.stages.Analysis.Run(callCtx, inv.env)
		if err == nil {
			analysisJSON, err = res.Marshal()
		}
	case stage.Notification:
		if inv.p.stages.Notification == nil {
			return "", services.Wrap(services.ErrConfiguration, stg.name, "run", "notification stage not configured", nil)
		}
		_, err = inv.p.stages.Notification.Run(callCtx, inv.env, result, resumed)
	case stage.Storage:
		if inv.p.stages.Storage == nil {
			return "", services.Wrap(services.ErrConfiguration, stg.name, "run", "storage stage not configured", nil)
		}
		_, err = inv.p.stages.Storage.Run(callCtx, inv.env, result)
	}
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && services.KindOf(err) == services.KindUnknown {
		err = services.Wrap(services.ErrServiceUnavailable, stg.name, "run", "stage timed out", err)
	}
	return analysisJSON, err
}

// retryDelay returns the backoff before the next attempt and whether it fits
// in the remaining invocation time.
func (inv *invocation) retryDelay(attempt int) (time.Duration, bool) {
	delay := inv.p.policy.Backoff(attempt)
	next := inv.p.now().Add(delay + inv.p.policy.StageTimeout)
	return delay, next.Before(inv.deadline)
}
