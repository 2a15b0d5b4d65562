package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"newsrelay/internal/analysis"
	"newsrelay/internal/envelope"
	"newsrelay/internal/notifications"
	"newsrelay/internal/services"
	"newsrelay/internal/state"
	"newsrelay/internal/storage"
	"newsrelay/internal/workflow"
)

func timeoutErr() error {
	return services.Wrap(services.ErrServiceUnavailable, "analysis", "analyze", "provider timed out", context.DeadlineExceeded)
}

func TestHappyPathCompletes(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	env := h.publish("A1")

	outcome := h.consume()
	if outcome.Action != workflow.ActionAck || outcome.Status != state.StatusCompleted {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	rec := h.record(env.ID)
	if rec.Status != state.StatusCompleted || rec.AttemptCount != 0 {
		t.Fatalf("unexpected record %+v", rec)
	}
	result, err := analysis.ParseResult(rec.AnalysisJSON)
	if err != nil || result.Confidence != 0.9 || len(result.Tags) != 1 || result.Tags[0] != "finance" {
		t.Fatalf("unexpected stored analysis %+v %v", result, err)
	}
	if h.channel.Sent() != 1 || h.notificationRecord(env.ID) == nil {
		t.Fatalf("expected exactly one notification, got %d", h.channel.Sent())
	}
	stored, found, err := h.backend.Get(context.Background(), env.ID)
	if err != nil || !found || stored.Version != 1 {
		t.Fatalf("expected stored version 1, got %+v found=%v err=%v", stored, found, err)
	}
	attempts, err := h.store.ListAttempts(context.Background(), env.ID)
	if err != nil || len(attempts) != 3 {
		t.Fatalf("expected one history entry per stage, got %d %v", len(attempts), err)
	}
	if !h.queueEmpty() {
		t.Fatal("message should be acked")
	}
}

func TestProviderTimeoutsDeadLetter(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	h.provider.failures = []error{timeoutErr(), timeoutErr(), timeoutErr(), timeoutErr()}
	env := h.publish("A2")

	outcome := h.consume()
	if outcome.Action != workflow.ActionAck || outcome.Status != state.StatusDeadLettered {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if !errors.Is(outcome.Err, services.ErrServiceUnavailable) {
		t.Fatalf("expected unavailable cause, got %v", outcome.Err)
	}
	rec := h.record(env.ID)
	if rec.Status != state.StatusDeadLettered || rec.AttemptCount != 3 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if h.provider.Calls() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", h.provider.Calls())
	}
	if h.notificationRecord(env.ID) != nil || h.channel.Sent() != 0 {
		t.Fatal("no notification may exist for a dead-lettered envelope")
	}
	if _, found, _ := h.backend.Get(context.Background(), env.ID); found {
		t.Fatal("no storage record may exist for a dead-lettered envelope")
	}
	entry, err := h.dead.Get(context.Background(), env.ID)
	if err != nil {
		t.Fatalf("dead letter entry missing: %v", err)
	}
	if entry.AttemptCount != 3 || len(entry.Attempts) != 3 || entry.ErrorKind != string(services.KindServiceUnavailable) {
		t.Fatalf("unexpected dead letter %+v", entry)
	}
}

func TestRedeliveryAfterCompletionMakesNoCalls(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	h.publish("A3")
	ctx := context.Background()

	first, err := h.queue.Receive(ctx)
	if err != nil || first == nil {
		t.Fatalf("Receive: %v %v", first, err)
	}
	if outcome := h.pipeline.Handle(ctx, first); outcome.Status != state.StatusCompleted {
		t.Fatalf("unexpected first outcome %+v", outcome)
	}
	// The ack never lands; the visibility window lapses.
	h.clock.Advance(6 * time.Minute)

	second, err := h.queue.Receive(ctx)
	if err != nil || second == nil {
		t.Fatalf("expected redelivery: %v %v", second, err)
	}
	if second.DeliveryAttempt != 2 {
		t.Fatalf("expected delivery attempt 2, got %d", second.DeliveryAttempt)
	}
	outcome := h.pipeline.Handle(ctx, second)
	if outcome.Action != workflow.ActionAck || !outcome.Duplicate {
		t.Fatalf("expected duplicate ack, got %+v", outcome)
	}
	if h.provider.Calls() != 1 || h.channel.Sent() != 1 || h.backend.Upserts() != 1 {
		t.Fatalf("redelivery must not call providers: analysis=%d notify=%d storage=%d",
			h.provider.Calls(), h.channel.Sent(), h.backend.Upserts())
	}
	if err := h.pipeline.Apply(ctx, h.queue, second, outcome); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := h.pipeline.Apply(ctx, h.queue, first, outcome); err != nil {
		t.Fatalf("stale ack should be tolerated: %v", err)
	}
	if !h.queueEmpty() {
		t.Fatal("queue should be empty")
	}
}

func TestMalformedMessageDeadLettersImmediately(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	body := []byte(`{"id":"6f1c2a8e-4b7d-5e3f-9a21-0c5d8b7e4f11","source":"factiva","fetched_at":"2026-10-01T09:00:00Z","metadata":{},"delivery_attempt":0}`)
	h.publishRaw(body)

	outcome := h.consume()
	if outcome.Action != workflow.ActionAck || outcome.Status != state.StatusDeadLettered {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if !errors.Is(outcome.Err, services.ErrMalformedData) {
		t.Fatalf("expected malformed data, got %v", outcome.Err)
	}
	id := envelope.ContentID(body)
	if outcome.EnvelopeID != id {
		t.Fatalf("malformed payload should be keyed by content, got %s", outcome.EnvelopeID)
	}
	if claimed, _ := h.store.GetRecord(context.Background(), "6f1c2a8e-4b7d-5e3f-9a21-0c5d8b7e4f11"); claimed != nil {
		t.Fatalf("claimed id must not get a record, got %+v", claimed)
	}
	rec := h.record(id)
	if rec.Status != state.StatusDeadLettered || rec.AttemptCount != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if h.provider.Calls() != 0 {
		t.Fatal("no provider may be called for a malformed message")
	}
	entry, err := h.dead.Get(context.Background(), id)
	if err != nil || string(entry.Payload) != string(body) {
		t.Fatalf("dead letter should keep the raw payload: %v", err)
	}
	if !h.queueEmpty() {
		t.Fatal("malformed message must be acked")
	}
}

func TestMalformedTwinDoesNotShadowValidEnvelope(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	valid, err := envelope.New("factiva", "A9", "Central bank holds rates.", h.clock.Now(), nil)
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	twin := []byte(`{"id":"` + valid.ID + `","source":"factiva","fetched_at":"2026-10-01T09:00:00Z","metadata":{},"delivery_attempt":0}`)
	h.publishRaw(twin)
	bad := h.consume()
	if bad.Status != state.StatusDeadLettered || bad.EnvelopeID == valid.ID {
		t.Fatalf("unexpected outcome for malformed twin %+v", bad)
	}

	env := h.publish("A9")
	if env.ID != valid.ID {
		t.Fatalf("published id %s differs from %s", env.ID, valid.ID)
	}
	good := h.consume()
	if good.Duplicate || good.Status != state.StatusCompleted {
		t.Fatalf("valid envelope should complete, got %+v", good)
	}
	if h.provider.Calls() != 1 {
		t.Fatalf("expected one provider call, got %d", h.provider.Calls())
	}
	if _, err := h.dead.Get(context.Background(), valid.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("valid envelope must not be dead-lettered, got %v", err)
	}
}

func TestUndecodableJSONKeyedByPayload(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	h.publishRaw([]byte("not json"))
	outcome := h.consume()
	if outcome.Status != state.StatusDeadLettered || outcome.EnvelopeID == "" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	h.publishRaw([]byte("not json"))
	again := h.consume()
	if !again.Duplicate || again.EnvelopeID != outcome.EnvelopeID {
		t.Fatalf("same garbage should map to the same entry, got %+v", again)
	}
}

func TestMalformedResponseUsesSmallBudget(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	bad := analysis.Response{Summary: "", Tags: []string{"x"}, Confidence: confidence(0.5)}
	h.provider.response = bad
	env := h.publish("bad-shape")

	outcome := h.consume()
	if outcome.Status != state.StatusDeadLettered {
		t.Fatalf("expected dead letter, got %+v", outcome)
	}
	if h.provider.Calls() != 2 || h.record(env.ID).AttemptCount != 2 {
		t.Fatalf("expected 2 attempts, got calls=%d", h.provider.Calls())
	}
}

func TestRetriesAcrossDeliveriesWhenDeadlineIsShort(t *testing.T) {
	policy := defaultPolicy()
	policy.InvocationDeadline = 61 * time.Second
	h := newHarness(t, policy)
	h.provider.failures = []error{timeoutErr(), timeoutErr()}
	env := h.publish("slow")

	first := h.consume()
	if first.Action != workflow.ActionNack || first.Delay != time.Second {
		t.Fatalf("expected nack with 1s backoff, got %+v", first)
	}
	if rec := h.record(env.ID); rec.AttemptCount != 1 || rec.Status != state.StatusAnalyzing {
		t.Fatalf("unexpected record after first failure %+v", rec)
	}

	h.clock.Advance(first.Delay)
	second := h.consume()
	if second.Action != workflow.ActionNack || second.Delay != 2*time.Second {
		t.Fatalf("expected nack with 2s backoff, got %+v", second)
	}

	h.clock.Advance(second.Delay)
	third := h.consume()
	if third.Status != state.StatusCompleted {
		t.Fatalf("expected completion on third delivery, got %+v", third)
	}
	if rec := h.record(env.ID); rec.AttemptCount != 0 {
		t.Fatalf("attempt count should reset after the stage completes, got %d", rec.AttemptCount)
	}
}

func TestCrashBetweenStagesResumesWithoutRepeating(t *testing.T) {
	cases := []struct {
		crashOn       state.Status
		analysisCalls int
	}{
		{state.StatusAnalyzing, 1},
		{state.StatusAnalyzed, 2},
		{state.StatusNotifying, 1},
		{state.StatusNotified, 1},
		{state.StatusStoring, 1},
		{state.StatusCompleted, 1},
	}
	for _, tc := range cases {
		t.Run(string(tc.crashOn), func(t *testing.T) {
			h := newHarness(t, defaultPolicy())
			crashing := &crashingStore{Store: h.store, failOn: map[state.Status]bool{tc.crashOn: true}}
			env := h.publish("crash")

			first := h.consumeWith(h.build(crashing))
			if first.Action != workflow.ActionNack {
				t.Fatalf("expected nack after simulated crash, got %+v", first)
			}

			// Past the visibility window and any in-progress guard.
			h.clock.Advance(10 * time.Minute)
			for i := 0; i < 3; i++ {
				outcome := h.consume()
				if outcome.Status == state.StatusCompleted {
					break
				}
				h.clock.Advance(10 * time.Minute)
			}
			if rec := h.record(env.ID); rec.Status != state.StatusCompleted {
				t.Fatalf("expected completion, got %+v", rec)
			}
			if h.provider.Calls() != tc.analysisCalls {
				t.Fatalf("expected %d analysis calls, got %d", tc.analysisCalls, h.provider.Calls())
			}
			if h.channel.Sent() != 1 {
				t.Fatalf("notification must be sent once, got %d", h.channel.Sent())
			}
			stored, _, _ := h.backend.Get(context.Background(), env.ID)
			if stored.Version != 1 {
				t.Fatalf("storage must be written once, got version %d", stored.Version)
			}
		})
	}
}

func TestRepeatedRedeliveryKeepsSingleNotification(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	env := h.publish("dup")
	h.consume()
	first := h.notificationRecord(env.ID)
	for i := 0; i < 5; i++ {
		h.publish("dup")
		if outcome := h.consume(); !outcome.Duplicate {
			t.Fatalf("expected duplicate ack, got %+v", outcome)
		}
	}
	again := h.notificationRecord(env.ID)
	if h.channel.Sent() != 1 || !again.DeliveredAt.Equal(first.DeliveredAt) {
		t.Fatalf("notification record changed or resent: sends=%d", h.channel.Sent())
	}
}

func TestConfigurationErrorAborts(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	h.channel.failures = []error{services.Wrap(services.ErrConfiguration, "notification", "send", "webhook 404", nil)}
	env := h.publish("cfg")

	outcome := h.consume()
	if outcome.Action != workflow.ActionAbort {
		t.Fatalf("expected abort, got %+v", outcome)
	}
	rec := h.record(env.ID)
	if rec.Status != state.StatusNotifying || rec.AttemptCount != 0 {
		t.Fatalf("configuration errors must not count attempts, got %+v", rec)
	}
	if h.queueEmpty() {
		t.Fatal("message must stay queued after abort")
	}

	// After the operator fixes the channel the message completes without
	// re-running analysis.
	outcome = h.consume()
	if outcome.Status != state.StatusCompleted || h.provider.Calls() != 1 {
		t.Fatalf("expected completion without re-analysis, got %+v calls=%d", outcome, h.provider.Calls())
	}
}

func TestInProgressRecordIsDeferred(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	env := h.publish("busy")
	ctx := context.Background()
	rec, _, err := h.store.CreateRecord(ctx, env.ID)
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	rec.Status = state.StatusAnalyzing
	if err := h.store.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	h.clock.Advance(10 * time.Second)

	outcome := h.consume()
	if outcome.Action != workflow.ActionNack || outcome.Delay != 50*time.Second {
		t.Fatalf("expected deferral for the rest of the stage timeout, got %+v", outcome)
	}
	if h.provider.Calls() != 0 {
		t.Fatal("deferred delivery must not call the provider")
	}
}

// configWriteFailStore rejects writes that record a configuration error.
type configWriteFailStore struct {
	*state.Store
}

func (s *configWriteFailStore) UpdateRecord(ctx context.Context, rec *state.ProcessingRecord) error {
	if rec.LastErrorKind == string(services.KindConfiguration) {
		return errors.New("disk full")
	}
	return s.Store.UpdateRecord(ctx, rec)
}

func TestConfigurationErrorWriteFailureIsLogged(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	h.channel.failures = []error{services.Wrap(services.ErrConfiguration, "notification", "send", "webhook 404", nil)}
	var buf bytes.Buffer
	stages := workflow.StageSet{
		Analysis:     analysis.NewStage(h.provider, nil),
		Notification: notifications.NewStage(h.channel, h.store, nil),
		Storage:      storage.NewStage(h.backend, 2, nil),
	}
	p := workflow.NewPipeline(&configWriteFailStore{Store: h.store}, stages, h.dead, h.policy,
		slog.New(slog.NewTextHandler(&buf, nil)),
		workflow.WithClock(h.clock.Now),
		workflow.WithSleeper(h.clock.Sleep),
	)
	env := h.publish("cfg-write")

	outcome := h.consumeWith(p)
	if outcome.Action != workflow.ActionAbort {
		t.Fatalf("expected abort, got %+v", outcome)
	}
	if rec := h.record(env.ID); rec.LastError != "" {
		t.Fatalf("write was rejected, got %+v", rec)
	}
	logs := buf.String()
	if !strings.Contains(logs, "configuration error not recorded on envelope") || !strings.Contains(logs, "disk full") {
		t.Fatalf("expected the failed write to be logged, got:\n%s", logs)
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 30 * time.Second},
		{60, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := workflow.BackoffDelay(time.Second, 30*time.Second, tc.attempt); got != tc.want {
			t.Errorf("attempt %d: got %v want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestManagerStopsOnConfigurationError(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	h.channel.failures = []error{services.Wrap(services.ErrConfiguration, "notification", "send", "bad token", nil)}
	h.publish("mgr")

	m := workflow.NewManager(h.pipeline, h.queue, 1, nil, workflow.WithStatusCounter(h.store))
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		m.Stop()
		t.Fatal("manager did not stop after configuration error")
	}
	if !errors.Is(m.Err(), services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", m.Err())
	}
	status := m.Status(context.Background())
	if status.Running || !status.Aborted || status.Counters.Aborted != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.RecordCounts[state.StatusNotifying] != 1 {
		t.Fatalf("expected one notifying record, got %+v", status.RecordCounts)
	}
}

func TestManagerProcessesQueue(t *testing.T) {
	h := newHarness(t, defaultPolicy())
	for _, id := range []string{"m1", "m2", "m3"} {
		h.publish(id)
	}
	m := workflow.NewManager(h.pipeline, h.queue, 2, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status(context.Background()).Counters.Acked == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	m.Stop()
	status := m.Status(context.Background())
	if status.Counters.Acked != 3 || status.Running {
		t.Fatalf("unexpected status %+v", status)
	}
	if h.channel.Sent() != 3 {
		t.Fatalf("expected 3 notifications, got %d", h.channel.Sent())
	}
}
