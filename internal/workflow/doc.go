// Package workflow drives envelopes through analysis, notification and
// storage.
//
// Pipeline.Handle is the per-message unit of work: it decodes a delivery,
// consults the state store, runs whichever stages the envelope has not yet
// completed, and returns an Outcome telling the caller to ack, nack with a
// delay, or abort. Every status change is a versioned write, so redelivered
// or duplicated messages resume where the last confirmed step left off and
// never repeat it. The Manager runs a pool of consumers that apply those
// outcomes to the queue.
//
// Retry budgets are per stage: attempt_count resets when a stage completes
// and the attempt history keeps every try. Configuration errors are never
// counted; they stop the consumers and leave the message queued.
package workflow
