package deadletter_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"newsrelay/internal/deadletter"
	"newsrelay/internal/envelope"
	"newsrelay/internal/queue"
	"newsrelay/internal/services"
	"newsrelay/internal/state"
)

func setup(t *testing.T) (*state.Store, *queue.Memory, *deadletter.Handler) {
	t.Helper()
	store, err := state.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	q := queue.NewMemory(queue.Options{ReceiveTimeout: 20 * time.Millisecond, PollInterval: time.Millisecond})
	return store, q, deadletter.NewHandler(store, q, nil)
}

func payload(t *testing.T) (envelope.ArticleEnvelope, []byte) {
	t.Helper()
	env, err := envelope.New("factiva", "dl-1", "body", time.Now(), nil)
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	body, err := envelope.Encode(envelope.QueueMessage{Envelope: env, DeliveryAttempt: 4, TraceID: "old-trace"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return env, body
}

func deadLetterRecord(t *testing.T, store *state.Store, id string) {
	t.Helper()
	ctx := context.Background()
	rec, _, err := store.CreateRecord(ctx, id)
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	rec.Status = state.StatusDeadLettered
	rec.AttemptCount = 5
	rec.LastError = "down"
	if err := store.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
}

func TestQuarantineAndInspect(t *testing.T) {
	_, _, h := setup(t)
	ctx := context.Background()
	env, body := payload(t)
	cause := services.Wrap(services.ErrServiceUnavailable, "analysis", "analyze", "provider down", nil)

	err := h.Quarantine(ctx, deadletter.Entry{
		EnvelopeID:   env.ID,
		Payload:      body,
		LastError:    cause,
		AttemptCount: 5,
		Attempts:     []state.AttemptEntry{{EnvelopeID: env.ID, Attempt: 1, Stage: "analysis", Status: state.StatusFailed}},
	})
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	entries, err := h.List(ctx, false)
	if err != nil || len(entries) != 1 {
		t.Fatalf("List: %v %v", entries, err)
	}
	got, err := h.Get(ctx, env.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ErrorKind != string(services.KindServiceUnavailable) || got.AttemptCount != 5 || len(got.Attempts) != 1 {
		t.Fatalf("unexpected entry %+v", got)
	}
	if string(got.Payload) != string(body) {
		t.Fatalf("payload not preserved")
	}

	if _, err := h.Get(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReplayResetsRecordAndRepublishes(t *testing.T) {
	store, q, h := setup(t)
	ctx := context.Background()
	env, body := payload(t)
	deadLetterRecord(t, store, env.ID)
	if err := h.Quarantine(ctx, deadletter.Entry{EnvelopeID: env.ID, Payload: body, LastError: errors.New("x"), AttemptCount: 5}); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	result, err := h.Replay(ctx, env.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if result.Raw || result.TraceID == "" || result.TraceID == "old-trace" {
		t.Fatalf("unexpected replay result %+v", result)
	}

	rec, err := store.GetRecord(ctx, env.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Status != state.StatusReceived || rec.AttemptCount != 0 || rec.LastError != "" {
		t.Fatalf("record not reset: %+v", rec)
	}

	d, err := q.Receive(ctx)
	if err != nil || d == nil {
		t.Fatalf("expected replayed message, got %v %v", d, err)
	}
	msg, err := envelope.Decode(d.Body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Envelope.ID != env.ID || msg.TraceID != result.TraceID || msg.DeliveryAttempt != 0 {
		t.Fatalf("unexpected replayed message %+v", msg)
	}

	entries, _ := h.List(ctx, false)
	if len(entries) != 0 {
		t.Fatalf("replayed entry should be hidden by default, got %d", len(entries))
	}
	all, _ := h.List(ctx, true)
	if len(all) != 1 || all[0].ReplayCount != 1 {
		t.Fatalf("expected one replayed entry, got %+v", all)
	}
}

func TestReplayRawPayload(t *testing.T) {
	store, q, h := setup(t)
	ctx := context.Background()
	raw := []byte(`{"id": 7}`)
	id := envelope.PeekID(raw)
	deadLetterRecord(t, store, id)
	if err := h.Quarantine(ctx, deadletter.Entry{EnvelopeID: id, Payload: raw, LastError: services.ErrMalformedData}); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	result, err := h.Replay(ctx, id)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !result.Raw {
		t.Fatal("expected raw replay")
	}
	d, _ := q.Receive(ctx)
	if d == nil || string(d.Body) != string(raw) {
		t.Fatalf("expected raw payload republished, got %+v", d)
	}
}

func TestReplayRejectsCompletedRecord(t *testing.T) {
	store, q, h := setup(t)
	ctx := context.Background()
	env, body := payload(t)
	rec, _, _ := store.CreateRecord(ctx, env.ID)
	for _, status := range []state.Status{state.StatusAnalyzing, state.StatusAnalyzed, state.StatusNotifying, state.StatusNotified, state.StatusStoring, state.StatusCompleted} {
		rec.Status = status
		if err := store.UpdateRecord(ctx, rec); err != nil {
			t.Fatalf("UpdateRecord %s: %v", status, err)
		}
	}
	if err := h.Quarantine(ctx, deadletter.Entry{EnvelopeID: env.ID, Payload: body}); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if _, err := h.Replay(ctx, env.ID); !errors.Is(err, state.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if stats, _ := q.Stats(ctx); stats.Total() != 0 {
		t.Fatalf("nothing should be published, got %+v", stats)
	}
}

func TestReplayUnknownEnvelope(t *testing.T) {
	_, _, h := setup(t)
	if _, err := h.Replay(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type flakyQueue struct {
	*queue.Memory
	down bool
}

func (f *flakyQueue) Publish(ctx context.Context, msg queue.Outgoing) error {
	if f.down {
		return errors.New("queue down")
	}
	return f.Memory.Publish(ctx, msg)
}

func TestReplayPublishFailureKeepsEnvelopeReplayable(t *testing.T) {
	store, q, _ := setup(t)
	flaky := &flakyQueue{Memory: q, down: true}
	h := deadletter.NewHandler(store, flaky, nil)
	ctx := context.Background()
	env, body := payload(t)
	deadLetterRecord(t, store, env.ID)
	if err := h.Quarantine(ctx, deadletter.Entry{EnvelopeID: env.ID, Payload: body, LastError: errors.New("x"), AttemptCount: 5}); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	if _, err := h.Replay(ctx, env.ID); !errors.Is(err, services.ErrServiceUnavailable) {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	rec, err := store.GetRecord(ctx, env.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Status != state.StatusDeadLettered || rec.AttemptCount != 5 || rec.LastError != "down" {
		t.Fatalf("record not restored after failed publish: %+v", rec)
	}
	entry, err := h.Get(ctx, env.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Replayed() {
		t.Fatal("failed replay must not mark the entry replayed")
	}

	flaky.down = false
	result, err := h.Replay(ctx, env.ID)
	if err != nil {
		t.Fatalf("second Replay: %v", err)
	}
	d, err := q.Receive(ctx)
	if err != nil || d == nil {
		t.Fatalf("expected replayed message, got %v %v", d, err)
	}
	msg, err := envelope.Decode(d.Body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.TraceID != result.TraceID {
		t.Fatalf("trace id = %q, want %q", msg.TraceID, result.TraceID)
	}
}

func TestReplayResumesInterruptedReplay(t *testing.T) {
	store, q, h := setup(t)
	ctx := context.Background()
	env, body := payload(t)
	// Record left at Received with the dead-letter entry not yet marked replayed.
	if _, _, err := store.CreateRecord(ctx, env.ID); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := h.Quarantine(ctx, deadletter.Entry{EnvelopeID: env.ID, Payload: body, LastError: errors.New("x"), AttemptCount: 5}); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	if _, err := h.Replay(ctx, env.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if d, _ := q.Receive(ctx); d == nil {
		t.Fatal("expected replayed message")
	}
	entry, err := h.Get(ctx, env.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !entry.Replayed() {
		t.Fatal("entry should be marked replayed")
	}

	if _, err := h.Replay(ctx, env.ID); !errors.Is(err, state.ErrInvalidTransition) {
		t.Fatalf("replaying a finished replay again: expected invalid transition, got %v", err)
	}
}
