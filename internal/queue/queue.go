package queue

import (
	"context"
	"errors"
	"time"
)

// ErrStaleReceipt is returned when acking or nacking a delivery whose
// visibility window already expired and was handed to another consumer.
var ErrStaleReceipt = errors.New("stale delivery receipt")

const (
	defaultVisibilityTimeout = 5 * time.Minute
	defaultReceiveTimeout    = 5 * time.Second
	defaultPollInterval      = 200 * time.Millisecond
)

// Outgoing is a message to publish.
type Outgoing struct {
	Body    []byte
	TraceID string
	// Delay postpones first visibility.
	Delay time.Duration
}

// Delivery is a received message. Receipt identifies this particular lease.
type Delivery struct {
	MessageID       int64
	Receipt         string
	Body            []byte
	TraceID         string
	DeliveryAttempt int
	EnqueuedAt      time.Time
}

// Stats summarizes queue depth.
type Stats struct {
	Ready    int `json:"ready"`
	InFlight int `json:"in_flight"`
	Delayed  int `json:"delayed"`
}

// Total returns the number of messages held by the queue.
func (s Stats) Total() int { return s.Ready + s.InFlight + s.Delayed }

// Queue is the contract every backend satisfies.
type Queue interface {
	Publish(ctx context.Context, msg Outgoing) error
	// Receive blocks until a message is visible or the receive timeout
	// elapses, in which case it returns nil, nil.
	Receive(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Options tunes delivery windows. Zero values take defaults.
type Options struct {
	VisibilityTimeout time.Duration
	ReceiveTimeout    time.Duration
	PollInterval      time.Duration
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = defaultVisibilityTimeout
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = defaultReceiveTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// pollReceive retries try until it yields a delivery, the receive timeout
// passes, or ctx ends.
func pollReceive(ctx context.Context, opts Options, try func(context.Context) (*Delivery, error)) (*Delivery, error) {
	timer := time.NewTimer(opts.ReceiveTimeout)
	defer timer.Stop()
	for {
		d, err := try(ctx)
		if err != nil || d != nil {
			return d, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-time.After(opts.PollInterval):
		}
	}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
