package services

import "context"

type contextKey string

const (
	envelopeIDKey contextKey = "envelope_id"
	stageKey      contextKey = "stage"
	workerKey     contextKey = "worker"
	traceIDKey    contextKey = "trace_id"
)

// WithEnvelopeID annotates context with the article envelope identifier.
func WithEnvelopeID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, envelopeIDKey, id)
}

// EnvelopeIDFromContext extracts the envelope identifier if present.
func EnvelopeIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(envelopeIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithWorker annotates context with the consumer worker name.
func WithWorker(ctx context.Context, worker string) context.Context {
	if worker == "" {
		return ctx
	}
	return context.WithValue(ctx, workerKey, worker)
}

// WorkerFromContext returns the worker name if present.
func WorkerFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(workerKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTraceID annotates context with the message trace identifier.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceIDFromContext extracts the trace identifier if present.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
