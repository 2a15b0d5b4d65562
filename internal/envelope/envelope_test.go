package envelope_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"newsrelay/internal/envelope"
	"newsrelay/internal/services"
)

func sampleEnvelope(t *testing.T) envelope.ArticleEnvelope {
	t.Helper()
	env, err := envelope.New("factiva", "DJ-001", "Markets rallied on Tuesday.", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), map[string]string{
		envelope.MetaTitle: "Markets rally",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return env
}

func TestNewIDIsDeterministic(t *testing.T) {
	a := envelope.NewID("factiva", "DJ-001")
	b := envelope.NewID("factiva", "DJ-001")
	c := envelope.NewID("factiva", "DJ-002")
	d := envelope.NewID("other", "DJ-001")
	if a != b {
		t.Fatalf("expected identical ids, got %s and %s", a, b)
	}
	if a == c || a == d {
		t.Fatal("expected distinct ids for distinct articles")
	}
}

func TestNewCopiesMetadata(t *testing.T) {
	meta := map[string]string{envelope.MetaTitle: "original"}
	env, err := envelope.New("factiva", "DJ-9", "body", time.Now(), meta)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	meta[envelope.MetaTitle] = "changed"
	if env.Title() != "original" {
		t.Fatalf("envelope metadata aliased caller map: %q", env.Title())
	}
}

func TestNewRejectsEmptyContent(t *testing.T) {
	_, err := envelope.New("factiva", "DJ-1", "   ", time.Now(), nil)
	if !errors.Is(err, services.ErrMalformedData) {
		t.Fatalf("expected malformed data, got %v", err)
	}
}

func TestEncodeDecodePreservesEnvelope(t *testing.T) {
	env := sampleEnvelope(t)
	data, err := envelope.Encode(envelope.QueueMessage{Envelope: env, DeliveryAttempt: 2, TraceID: "trace-1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := envelope.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Envelope.ID != env.ID || msg.Envelope.RawContent != env.RawContent || !msg.Envelope.FetchedAt.Equal(env.FetchedAt) {
		t.Fatalf("envelope mismatch: %+v vs %+v", msg.Envelope, env)
	}
	if msg.DeliveryAttempt != 2 || msg.TraceID != "trace-1" {
		t.Fatalf("unexpected delivery fields: %+v", msg)
	}
	if msg.Envelope.Title() != "Markets rally" {
		t.Fatalf("metadata lost: %+v", msg.Envelope.Metadata)
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"not json":         "{not json",
		"missing content":  `{"id":"6f1c2a8e-4b7d-5e3f-9a21-0c5d8b7e4f10","source":"factiva","fetched_at":"2024-05-01T12:00:00Z","metadata":{},"delivery_attempt":0}`,
		"bad timestamp":    `{"id":"6f1c2a8e-4b7d-5e3f-9a21-0c5d8b7e4f10","source":"factiva","fetched_at":"yesterday","raw_content":"x","metadata":{},"delivery_attempt":0}`,
		"non uuid id":      `{"id":"abc","source":"factiva","fetched_at":"2024-05-01T12:00:00Z","raw_content":"x","metadata":{},"delivery_attempt":0}`,
		"extra field":      `{"id":"6f1c2a8e-4b7d-5e3f-9a21-0c5d8b7e4f10","source":"factiva","fetched_at":"2024-05-01T12:00:00Z","raw_content":"x","metadata":{},"delivery_attempt":0,"surprise":true}`,
		"non string meta":  `{"id":"6f1c2a8e-4b7d-5e3f-9a21-0c5d8b7e4f10","source":"factiva","fetched_at":"2024-05-01T12:00:00Z","raw_content":"x","metadata":{"n":1},"delivery_attempt":0}`,
		"negative attempt": `{"id":"6f1c2a8e-4b7d-5e3f-9a21-0c5d8b7e4f10","source":"factiva","fetched_at":"2024-05-01T12:00:00Z","raw_content":"x","metadata":{},"delivery_attempt":-1}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := envelope.Decode([]byte(payload))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, services.ErrMalformedData) {
				t.Fatalf("expected malformed data error, got %v", err)
			}
		})
	}
}

func TestPeekID(t *testing.T) {
	env := sampleEnvelope(t)
	data, err := envelope.Encode(envelope.QueueMessage{Envelope: env})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	broken := strings.Replace(string(data), `"raw_content"`, `"raw"`, 1)
	if got := envelope.PeekID([]byte(broken)); got != env.ID {
		t.Fatalf("expected id %s from partially valid payload, got %s", env.ID, got)
	}
	garbage := []byte("\x00\x01garbage")
	if envelope.PeekID(garbage) != envelope.PeekID(garbage) {
		t.Fatal("expected stable key for garbage payload")
	}
	if envelope.ContentID(garbage) != envelope.PeekID(garbage) {
		t.Fatal("garbage payload should fall back to its content id")
	}
	if envelope.ContentID([]byte(broken)) == env.ID {
		t.Fatal("content id must not reuse the claimed envelope id")
	}
}
