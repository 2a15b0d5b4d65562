package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"newsrelay/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backend struct {
	name string
	open func(t *testing.T, opts queue.Options) queue.Queue
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T, opts queue.Options) queue.Queue { return queue.NewMemory(opts) }},
		{"sqlite", func(t *testing.T, opts queue.Options) queue.Queue {
			q, err := queue.Open("sqlite://"+filepath.Join(t.TempDir(), "queue.db"), opts)
			if err != nil {
				t.Fatalf("open sqlite queue: %v", err)
			}
			t.Cleanup(func() { _ = q.Close() })
			return q
		}},
		{"postgres", openPostgresQueue},
	}
}

func newOptions(clock *fakeClock) queue.Options {
	return queue.Options{
		VisibilityTimeout: time.Minute,
		ReceiveTimeout:    50 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		Now:               clock.Now,
	}
}

func mustReceive(t *testing.T, q queue.Queue) *queue.Delivery {
	t.Helper()
	d, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d == nil {
		t.Fatal("expected a delivery")
	}
	return d
}

func expectEmpty(t *testing.T, q queue.Queue) {
	t.Helper()
	d, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d != nil {
		t.Fatalf("expected no visible message, got %+v", d)
	}
}

func TestPublishReceiveAck(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
			q := b.open(t, newOptions(clock))
			ctx := context.Background()

			if err := q.Publish(ctx, queue.Outgoing{Body: []byte(`{"n":1}`), TraceID: "trace-1"}); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			d := mustReceive(t, q)
			if string(d.Body) != `{"n":1}` || d.TraceID != "trace-1" || d.DeliveryAttempt != 1 {
				t.Fatalf("unexpected delivery %+v", d)
			}
			expectEmpty(t, q)

			stats, err := q.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.InFlight != 1 || stats.Ready != 0 {
				t.Fatalf("unexpected stats %+v", stats)
			}

			if err := q.Ack(ctx, d); err != nil {
				t.Fatalf("Ack: %v", err)
			}
			clock.Advance(2 * time.Minute)
			expectEmpty(t, q)
		})
	}
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
			q := b.open(t, newOptions(clock))
			ctx := context.Background()

			if err := q.Publish(ctx, queue.Outgoing{Body: []byte("a")}); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			first := mustReceive(t, q)
			clock.Advance(time.Minute + time.Second)
			second := mustReceive(t, q)
			if second.DeliveryAttempt != 2 {
				t.Fatalf("expected delivery attempt 2, got %d", second.DeliveryAttempt)
			}
			if err := q.Ack(ctx, first); !errors.Is(err, queue.ErrStaleReceipt) {
				t.Fatalf("expected stale receipt for expired lease, got %v", err)
			}
			if err := q.Ack(ctx, second); err != nil {
				t.Fatalf("Ack: %v", err)
			}
		})
	}
}

func TestNackDelaysRedelivery(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
			q := b.open(t, newOptions(clock))
			ctx := context.Background()

			if err := q.Publish(ctx, queue.Outgoing{Body: []byte("a")}); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			d := mustReceive(t, q)
			if err := q.Nack(ctx, d, 10*time.Second); err != nil {
				t.Fatalf("Nack: %v", err)
			}
			expectEmpty(t, q)
			stats, err := q.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.Delayed != 1 {
				t.Fatalf("expected one delayed message, got %+v", stats)
			}

			clock.Advance(11 * time.Second)
			again := mustReceive(t, q)
			if again.DeliveryAttempt != 2 {
				t.Fatalf("expected delivery attempt 2, got %d", again.DeliveryAttempt)
			}
			if err := q.Nack(ctx, d, 0); !errors.Is(err, queue.ErrStaleReceipt) {
				t.Fatalf("expected stale receipt when nacking an old lease, got %v", err)
			}
		})
	}
}

func TestPublishDelay(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
			q := b.open(t, newOptions(clock))
			if err := q.Publish(context.Background(), queue.Outgoing{Body: []byte("later"), Delay: 30 * time.Second}); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			expectEmpty(t, q)
			clock.Advance(31 * time.Second)
			mustReceive(t, q)
		})
	}
}

func TestSQLiteQueueSurvivesReopen(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := queue.OpenSQLite(path, newOptions(clock))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := q.Publish(context.Background(), queue.Outgoing{Body: []byte("durable")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := queue.OpenSQLite(path, newOptions(clock))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if d := mustReceive(t, reopened); string(d.Body) != "durable" {
		t.Fatalf("unexpected body %q", d.Body)
	}
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := queue.Open("kafka://broker", queue.Options{}); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
