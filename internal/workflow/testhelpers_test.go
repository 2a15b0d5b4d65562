package workflow_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"newsrelay/internal/analysis"
	"newsrelay/internal/deadletter"
	"newsrelay/internal/envelope"
	"newsrelay/internal/notifications"
	"newsrelay/internal/queue"
	"newsrelay/internal/state"
	"newsrelay/internal/storage"
	"newsrelay/internal/workflow"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
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

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.Advance(d)
	return nil
}

// stubProvider returns scripted errors before succeeding.
type stubProvider struct {
	mu       sync.Mutex
	calls    int
	failures []error
	response analysis.Response
}

func (p *stubProvider) Analyze(context.Context, string) (analysis.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return analysis.Response{}, err
	}
	return p.response, nil
}

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type stubChannel struct {
	mu       sync.Mutex
	sent     []notifications.Message
	failures []error
}

func (c *stubChannel) Name() string { return "stub" }

func (c *stubChannel) Send(_ context.Context, msg notifications.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *stubChannel) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// countingBackend counts storage writes.
type countingBackend struct {
	*storage.MemoryBackend
	mu      sync.Mutex
	upserts int
}

func (b *countingBackend) Upsert(ctx context.Context, id string, rec storage.Record, expected int64) (int64, error) {
	b.mu.Lock()
	b.upserts++
	b.mu.Unlock()
	return b.MemoryBackend.Upsert(ctx, id, rec, expected)
}

func (b *countingBackend) Upserts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upserts
}

// crashingStore fails the first status write to any status in failOn,
// simulating a crash after the stage side effect but before it was recorded.
type crashingStore struct {
	*state.Store
	mu     sync.Mutex
	failOn map[state.Status]bool
}

func (s *crashingStore) UpdateRecord(ctx context.Context, rec *state.ProcessingRecord) error {
	s.mu.Lock()
	fail := s.failOn[rec.Status]
	delete(s.failOn, rec.Status)
	s.mu.Unlock()
	if fail {
		return errors.New("simulated crash")
	}
	return s.Store.UpdateRecord(ctx, rec)
}

func confidence(v float64) *float64 { return &v }

func goodResponse() analysis.Response {
	return analysis.Response{
		Summary:    "Rates held steady.",
		Tags:       []string{"finance"},
		Confidence: confidence(0.9),
		Sentiment:  "neutral",
	}
}

type harness struct {
	t        *testing.T
	clock    *fakeClock
	store    *state.Store
	queue    *queue.Memory
	provider *stubProvider
	channel  *stubChannel
	backend  *countingBackend
	dead     *deadletter.Handler
	policy   workflow.Policy
	pipeline *workflow.Pipeline
}

func defaultPolicy() workflow.Policy {
	return workflow.Policy{
		MaxAttempts:               3,
		MalformedResponseAttempts: 2,
		StageTimeout:              time.Minute,
		InvocationDeadline:        4 * time.Minute,
		BackoffBase:               time.Second,
		BackoffMax:                30 * time.Second,
	}
}

func newHarness(t *testing.T, policy workflow.Policy) *harness {
	t.Helper()
	clock := newFakeClock()
	store, err := state.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	store.SetClock(clock.Now)

	h := &harness{
		t:        t,
		clock:    clock,
		store:    store,
		queue:    queue.NewMemory(queue.Options{VisibilityTimeout: 5 * time.Minute, ReceiveTimeout: 20 * time.Millisecond, PollInterval: time.Millisecond, Now: clock.Now}),
		provider: &stubProvider{response: goodResponse()},
		channel:  &stubChannel{},
		backend:  &countingBackend{MemoryBackend: storage.NewMemoryBackend()},
		policy:   policy,
	}
	h.dead = deadletter.NewHandler(store, h.queue, nil)
	h.dead.SetClock(clock.Now)
	h.pipeline = h.build(store)
	return h
}

func (h *harness) build(store workflow.StateStore) *workflow.Pipeline {
	stages := workflow.StageSet{
		Analysis:     analysis.NewStage(h.provider, nil),
		Notification: notifications.NewStage(h.channel, h.store, nil),
		Storage:      storage.NewStage(h.backend, 2, nil),
	}
	return workflow.NewPipeline(store, stages, h.dead, h.policy, nil,
		workflow.WithClock(h.clock.Now),
		workflow.WithSleeper(h.clock.Sleep),
	)
}

func (h *harness) publish(nativeID string) envelope.ArticleEnvelope {
	h.t.Helper()
	env, err := envelope.New("factiva", nativeID, "Central bank holds rates.", h.clock.Now(), map[string]string{envelope.MetaTitle: "Rates " + nativeID})
	if err != nil {
		h.t.Fatalf("envelope.New: %v", err)
	}
	body, err := envelope.Encode(envelope.QueueMessage{Envelope: env, TraceID: "trace-" + nativeID})
	if err != nil {
		h.t.Fatalf("Encode: %v", err)
	}
	h.publishRaw(body)
	return env
}

func (h *harness) publishRaw(body []byte) {
	h.t.Helper()
	if err := h.queue.Publish(context.Background(), queue.Outgoing{Body: body, TraceID: "trace"}); err != nil {
		h.t.Fatalf("Publish: %v", err)
	}
}

func (h *harness) consume() workflow.Outcome {
	h.t.Helper()
	return h.consumeWith(h.pipeline)
}

func (h *harness) consumeWith(p *workflow.Pipeline) workflow.Outcome {
	h.t.Helper()
	outcome, received, err := p.Consume(context.Background(), h.queue)
	if err != nil {
		h.t.Fatalf("Consume: %v", err)
	}
	if !received {
		h.t.Fatal("expected a delivery")
	}
	return outcome
}

func (h *harness) record(id string) *state.ProcessingRecord {
	h.t.Helper()
	rec, err := h.store.GetRecord(context.Background(), id)
	if err != nil {
		h.t.Fatalf("GetRecord: %v", err)
	}
	if rec == nil {
		h.t.Fatalf("no record for %s", id)
	}
	return rec
}

func (h *harness) notificationRecord(id string) *state.NotificationRecord {
	h.t.Helper()
	rec, err := h.store.GetNotification(context.Background(), id)
	if err != nil {
		h.t.Fatalf("GetNotification: %v", err)
	}
	return rec
}

func (h *harness) queueEmpty() bool {
	stats, err := h.queue.Stats(context.Background())
	if err != nil {
		h.t.Fatalf("Stats: %v", err)
	}
	return stats.Total() == 0
}
