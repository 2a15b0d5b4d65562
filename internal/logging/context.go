package logging

import (
	"context"
	"log/slog"

	"newsrelay/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEnvelopeID is the standardized key for article envelope identifiers.
	FieldEnvelopeID = "envelope_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldWorker is the standardized key for consumer worker names.
	FieldWorker = "worker"
	// FieldTraceID is the standardized key for message trace identifiers.
	FieldTraceID = "trace_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldEventType classifies a log line for filtering (stage_start, dead_letter, ...).
	FieldEventType = "event_type"
	// FieldDecisionType names the branch the orchestrator took.
	FieldDecisionType = "decision_type"
	// FieldErrorKind carries the error taxonomy classification.
	FieldErrorKind = "error_kind"
	// FieldErrorHint carries the operator next step for a failure.
	FieldErrorHint = "error_hint"
	// FieldAttempt carries the persisted attempt count.
	FieldAttempt = "attempt"
	// FieldDeliveryAttempt carries the queue delivery counter.
	FieldDeliveryAttempt = "delivery_attempt"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.EnvelopeIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldEnvelopeID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if worker, ok := services.WorkerFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorker, worker))
	}
	if tid, ok := services.TraceIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTraceID, tid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
