package notifications_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"newsrelay/internal/analysis"
	"newsrelay/internal/envelope"
	"newsrelay/internal/notifications"
	"newsrelay/internal/services"
	"newsrelay/internal/state"
)

type recordingChannel struct {
	mu        sync.Mutex
	sent      []notifications.Message
	err       error
	confirm   bool
	confirmed int
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(_ context.Context, msg notifications.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type confirmingChannel struct {
	*recordingChannel
}

func (c confirmingChannel) Delivered(context.Context, string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed++
	return c.confirm, nil
}

// flakyStore fails the next N notification writes.
type flakyStore struct {
	*state.Store
	failPuts int
}

func (f *flakyStore) PutNotification(ctx context.Context, rec state.NotificationRecord) (state.NotificationRecord, bool, error) {
	if f.failPuts > 0 {
		f.failPuts--
		return state.NotificationRecord{}, false, errors.New("disk full")
	}
	return f.Store.PutNotification(ctx, rec)
}

func newStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fixture(t *testing.T) (envelope.ArticleEnvelope, analysis.Result) {
	t.Helper()
	env, err := envelope.New("factiva", "doc-n", "body", time.Now(), map[string]string{envelope.MetaTitle: "Headline"})
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	return env, analysis.Result{EnvelopeID: env.ID, Summary: "s", Tags: []string{"finance"}, Confidence: 0.9, Sentiment: analysis.SentimentNeutral}
}

func TestStageSendsOnceAcrossRetries(t *testing.T) {
	store := newStore(t)
	channel := &recordingChannel{}
	st := notifications.NewStage(channel, store, nil)
	env, result := fixture(t)
	ctx := context.Background()

	first, err := st.Run(ctx, env, result, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := st.Run(ctx, env, result, true)
		if err != nil {
			t.Fatalf("Run retry: %v", err)
		}
		if !again.DeliveredAt.Equal(first.DeliveredAt) {
			t.Fatalf("record changed on retry: %+v vs %+v", again, first)
		}
	}
	if channel.count() != 1 {
		t.Fatalf("expected exactly one send, got %d", channel.count())
	}
	if channel.sent[0].Key != env.ID || channel.sent[0].Title != "Headline" {
		t.Fatalf("unexpected message %+v", channel.sent[0])
	}
}

func TestStageSendFailureRecordsNothing(t *testing.T) {
	store := newStore(t)
	channel := &recordingChannel{err: services.Wrap(services.ErrServiceUnavailable, "notification", "send", "down", nil)}
	st := notifications.NewStage(channel, store, nil)
	env, result := fixture(t)

	if _, err := st.Run(context.Background(), env, result, false); !errors.Is(err, services.ErrServiceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	rec, err := store.GetNotification(context.Background(), env.ID)
	if err != nil || rec != nil {
		t.Fatalf("expected no record, got %v %v", rec, err)
	}
}

func TestStageConfirmsUpstreamAfterLostRecord(t *testing.T) {
	store := &flakyStore{Store: newStore(t), failPuts: 1}
	channel := confirmingChannel{&recordingChannel{confirm: true}}
	st := notifications.NewStage(channel, store, nil)
	env, result := fixture(t)
	ctx := context.Background()

	if _, err := st.Run(ctx, env, result, false); !errors.Is(err, services.ErrServiceUnavailable) {
		t.Fatalf("expected persist failure to surface as unavailable, got %v", err)
	}
	rec, err := st.Run(ctx, env, result, true)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if rec.Status != state.NotificationConfirmed {
		t.Fatalf("expected confirmed record, got %+v", rec)
	}
	if channel.count() != 1 || channel.confirmed != 1 {
		t.Fatalf("expected one send and one confirmation, got sends=%d confirms=%d", channel.count(), channel.confirmed)
	}
}

func TestStageResendsWithoutConfirmer(t *testing.T) {
	store := &flakyStore{Store: newStore(t), failPuts: 1}
	channel := &recordingChannel{}
	st := notifications.NewStage(channel, store, nil)
	env, result := fixture(t)
	ctx := context.Background()

	if _, err := st.Run(ctx, env, result, false); err == nil {
		t.Fatal("expected persist failure")
	}
	if _, err := st.Run(ctx, env, result, true); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	// The documented duplicate window: one extra post, then dedup holds.
	if channel.count() != 2 {
		t.Fatalf("expected a single duplicate post, got %d sends", channel.count())
	}
	if _, err := st.Run(ctx, env, result, true); err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if channel.count() != 2 {
		t.Fatalf("dedup must hold once recorded, got %d sends", channel.count())
	}
}
