package testsupport

import (
	"context"
	"testing"
	"time"

	"newsrelay/internal/config"
	"newsrelay/internal/envelope"
	"newsrelay/internal/queue"
	"newsrelay/internal/state"
)

// MustOpenState opens the configured state store and registers cleanup.
func MustOpenState(t testing.TB, cfg *config.Config) *state.Store {
	t.Helper()

	store, err := state.Open(cfg.State.DSN)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenQueue opens the configured queue and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) queue.Queue {
	t.Helper()

	q, err := queue.Open(cfg.Queue.DSN, queue.Options{
		VisibilityTimeout: cfg.VisibilityTimeout(),
		ReceiveTimeout:    cfg.ReceiveTimeout(),
	})
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = q.Close()
	})
	return q
}

// NewEnvelope builds a valid envelope for nativeID.
func NewEnvelope(t testing.TB, nativeID string) envelope.ArticleEnvelope {
	t.Helper()

	env, err := envelope.New("factiva", nativeID, "Central bank holds rates at 4.5 percent.", time.Now().UTC(),
		map[string]string{envelope.MetaTitle: "Rates " + nativeID})
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	return env
}

// MustPublish encodes env and publishes it to q.
func MustPublish(t testing.TB, q queue.Queue, env envelope.ArticleEnvelope) {
	t.Helper()

	traceID := "trace-" + env.ID[:8]
	body, err := envelope.Encode(envelope.QueueMessage{Envelope: env, TraceID: traceID})
	if err != nil {
		t.Fatalf("envelope.Encode: %v", err)
	}
	if err := q.Publish(context.Background(), queue.Outgoing{Body: body, TraceID: traceID}); err != nil {
		t.Fatalf("queue.Publish: %v", err)
	}
}
