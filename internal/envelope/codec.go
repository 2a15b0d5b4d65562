package envelope

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"newsrelay/internal/services"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://schemas.newsrelay.dev/queue-message.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

type wireMessage struct {
	ID              string            `json:"id"`
	Source          string            `json:"source"`
	FetchedAt       string            `json:"fetched_at"`
	RawContent      string            `json:"raw_content"`
	Metadata        map[string]string `json:"metadata"`
	DeliveryAttempt int               `json:"delivery_attempt"`
	TraceID         string            `json:"trace_id,omitempty"`
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse envelope schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add envelope schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Encode serializes msg to the queue wire format.
func Encode(msg QueueMessage) ([]byte, error) {
	if err := msg.Envelope.Validate(); err != nil {
		return nil, err
	}
	meta := msg.Envelope.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	wire := wireMessage{
		ID:              msg.Envelope.ID,
		Source:          msg.Envelope.Source,
		FetchedAt:       msg.Envelope.FetchedAt.UTC().Format(time.RFC3339Nano),
		RawContent:      msg.Envelope.RawContent,
		Metadata:        meta,
		DeliveryAttempt: msg.DeliveryAttempt,
		TraceID:         msg.TraceID,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses and validates a queue payload. Every failure wraps
// services.ErrMalformedData.
func Decode(data []byte) (QueueMessage, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return QueueMessage{}, services.Wrap(services.ErrMalformedData, "envelope", "decode", "", errNilPayload)
	}
	sch, err := compiledSchema()
	if err != nil {
		return QueueMessage{}, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return QueueMessage{}, services.Wrap(services.ErrMalformedData, "envelope", "decode", "invalid json", err)
	}
	if err := sch.Validate(instance); err != nil {
		return QueueMessage{}, services.Wrap(services.ErrMalformedData, "envelope", "decode", "schema violation", err)
	}

	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return QueueMessage{}, services.Wrap(services.ErrMalformedData, "envelope", "decode", "invalid json", err)
	}
	fetchedAt, err := time.Parse(time.RFC3339Nano, wire.FetchedAt)
	if err != nil {
		return QueueMessage{}, services.Wrap(services.ErrMalformedData, "envelope", "decode", "fetched_at is not RFC 3339", err)
	}
	env := ArticleEnvelope{
		ID:         wire.ID,
		Source:     wire.Source,
		FetchedAt:  fetchedAt.UTC(),
		RawContent: wire.RawContent,
		Metadata:   wire.Metadata,
	}
	if env.Metadata == nil {
		env.Metadata = map[string]string{}
	}
	if err := env.Validate(); err != nil {
		return QueueMessage{}, err
	}
	return QueueMessage{Envelope: env, DeliveryAttempt: wire.DeliveryAttempt, TraceID: wire.TraceID}, nil
}

// PeekID returns a stable key for payload even when it cannot be decoded: the
// id field when it is a valid uuid, otherwise a UUIDv5 over the raw bytes.
func PeekID(data []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		if _, parseErr := uuid.Parse(probe.ID); parseErr == nil {
			return probe.ID
		}
	}
	return ContentID(data)
}

// ContentID is a UUIDv5 over the raw payload bytes. Identical payloads share it.
func ContentID(data []byte) string {
	return uuid.NewSHA1(namespace, data).String()
}
