package workflow

import (
	"context"
	"errors"
	"fmt"

	"newsrelay/internal/logging"
	"newsrelay/internal/queue"
	"newsrelay/internal/services"
)

// Consume receives one message, handles it and applies the outcome to the
// queue. received is false when no message was visible before the receive
// timeout.
func (p *Pipeline) Consume(ctx context.Context, q queue.Queue) (outcome Outcome, received bool, err error) {
	d, err := q.Receive(ctx)
	if err != nil {
		return Outcome{}, false, services.Wrap(services.ErrServiceUnavailable, "queue", "receive", "", err)
	}
	if d == nil {
		return Outcome{}, false, nil
	}
	outcome = p.Handle(ctx, d)
	if err := p.Apply(ctx, q, d, outcome); err != nil {
		return outcome, true, err
	}
	return outcome, true, nil
}

// Apply acks or nacks d according to outcome. A stale receipt means the
// visibility window lapsed and the message now belongs to another consumer;
// that is logged and not treated as an error.
func (p *Pipeline) Apply(ctx context.Context, q queue.Queue, d *queue.Delivery, outcome Outcome) error {
	logger := logging.WithContext(ctx, p.logger).With(
		logging.String(logging.FieldEnvelopeID, outcome.EnvelopeID),
		logging.String(logging.FieldTraceID, d.TraceID),
		logging.Int(logging.FieldDeliveryAttempt, d.DeliveryAttempt),
	)
	var err error
	switch outcome.Action {
	case ActionAck:
		err = q.Ack(ctx, d)
	case ActionNack, ActionAbort:
		err = q.Nack(ctx, d, outcome.Delay)
	default:
		return fmt.Errorf("unknown outcome action %q", outcome.Action)
	}
	if errors.Is(err, queue.ErrStaleReceipt) {
		logging.WarnWithContext(logger, "delivery lease expired before "+string(outcome.Action), "stale_receipt",
			logging.String(logging.FieldErrorHint, "pipeline.invocation_deadline should stay well below queue.visibility_timeout"),
		)
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrServiceUnavailable, "queue", string(outcome.Action), "", err)
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "delivery_"+string(outcome.Action)),
		logging.String("status", string(outcome.Status)),
	}
	if outcome.Delay > 0 {
		attrs = append(attrs, logging.Duration("redelivery_delay", outcome.Delay))
	}
	if outcome.Err != nil {
		attrs = append(attrs, logging.String(logging.FieldErrorKind, string(services.KindOf(outcome.Err))))
	}
	logger.Info("delivery "+string(outcome.Action), logging.Args(attrs...)...)
	return nil
}
