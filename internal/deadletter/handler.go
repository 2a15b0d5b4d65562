// Package deadletter quarantines envelopes the pipeline gave up on and lets
// operators inspect and replay them.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"newsrelay/internal/envelope"
	"newsrelay/internal/logging"
	"newsrelay/internal/queue"
	"newsrelay/internal/services"
	"newsrelay/internal/state"
)

// Store is the state store surface the handler uses.
type Store interface {
	PutDeadLetter(ctx context.Context, entry state.DeadLetter) error
	GetDeadLetter(ctx context.Context, envelopeID string) (*state.DeadLetter, error)
	ListDeadLetters(ctx context.Context, includeReplayed bool) ([]state.DeadLetter, error)
	MarkReplayed(ctx context.Context, envelopeID string, at time.Time) error
	ResetForReplay(ctx context.Context, envelopeID string) (*state.ProcessingRecord, error)
	GetRecord(ctx context.Context, envelopeID string) (*state.ProcessingRecord, error)
	UpdateRecord(ctx context.Context, rec *state.ProcessingRecord) error
}

// Publisher re-enqueues replayed payloads.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Outgoing) error
}

// Entry is what the pipeline hands over when it gives up on an envelope.
type Entry struct {
	EnvelopeID   string
	Payload      []byte
	LastError    error
	AttemptCount int
	Attempts     []state.AttemptEntry
}

// Handler owns the dead-letter table.
type Handler struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler builds a handler. publisher may be nil when only quarantine
// and inspection are needed.
func NewHandler(store Store, publisher Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "deadletter"),
		now:       time.Now,
	}
}

// SetClock overrides the handler clock.
func (h *Handler) SetClock(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// Quarantine stores entry durably. Quarantining the same envelope again
// replaces the previous entry.
func (h *Handler) Quarantine(ctx context.Context, entry Entry) error {
	if entry.EnvelopeID == "" {
		return fmt.Errorf("quarantine: envelope id is empty")
	}
	kind := services.KindOf(entry.LastError)
	message := ""
	if entry.LastError != nil {
		message = entry.LastError.Error()
	}
	record := state.DeadLetter{
		EnvelopeID:    entry.EnvelopeID,
		Payload:       entry.Payload,
		LastError:     message,
		ErrorKind:     string(kind),
		AttemptCount:  entry.AttemptCount,
		Attempts:      entry.Attempts,
		QuarantinedAt: h.now().UTC(),
	}
	if err := h.store.PutDeadLetter(ctx, record); err != nil {
		return fmt.Errorf("quarantine %s: %w", entry.EnvelopeID, err)
	}
	logging.ErrorWithContext(logging.WithContext(ctx, h.logger), "envelope dead-lettered", "dead_lettered",
		logging.String(logging.FieldEnvelopeID, entry.EnvelopeID),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Int(logging.FieldAttempt, entry.AttemptCount),
		logging.String("last_error", message),
		logging.Alert("dead_letter"),
		logging.String(logging.FieldErrorHint, "inspect with `newsrelay deadletter show` and replay once fixed"),
	)
	return nil
}

// List returns quarantined entries; replayed ones only when includeReplayed.
func (h *Handler) List(ctx context.Context, includeReplayed bool) ([]state.DeadLetter, error) {
	return h.store.ListDeadLetters(ctx, includeReplayed)
}

// Get returns one entry or an error wrapping services.ErrNotFound.
func (h *Handler) Get(ctx context.Context, envelopeID string) (*state.DeadLetter, error) {
	entry, err := h.store.GetDeadLetter(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, services.Wrap(services.ErrNotFound, "deadletter", "get", "no dead-letter entry for "+envelopeID, nil)
	}
	return entry, nil
}

// ReplayResult describes a replay.
type ReplayResult struct {
	EnvelopeID string `json:"envelope_id"`
	TraceID    string `json:"trace_id"`
	// Raw is true when the payload could not be decoded and was re-published as is.
	Raw bool `json:"raw"`
}

// Replay resets the envelope to Received with a fresh budget and puts the
// original payload back on the queue under a new trace id. When the publish
// fails the record goes back to DeadLettered so the replay can be retried.
// A record left at Received by an interrupted replay of an entry not yet
// marked replayed is picked up again.
func (h *Handler) Replay(ctx context.Context, envelopeID string) (ReplayResult, error) {
	if h.publisher == nil {
		return ReplayResult{}, services.Wrap(services.ErrConfiguration, "deadletter", "replay", "no queue configured", nil)
	}
	entry, err := h.Get(ctx, envelopeID)
	if err != nil {
		return ReplayResult{}, err
	}
	prev, err := h.store.GetRecord(ctx, envelopeID)
	if err != nil {
		return ReplayResult{}, services.Wrap(services.ErrServiceUnavailable, "deadletter", "replay", "load record", err)
	}
	rec, err := h.store.ResetForReplay(ctx, envelopeID)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrInvalidTransition) && interruptedReplay(prev, entry):
			rec = prev
		case errors.Is(err, state.ErrInvalidTransition):
			return ReplayResult{}, fmt.Errorf("replay %s: %w", envelopeID, err)
		default:
			return ReplayResult{}, services.Wrap(services.ErrServiceUnavailable, "deadletter", "replay", "reset record", err)
		}
	}

	result := ReplayResult{EnvelopeID: envelopeID, TraceID: uuid.NewString()}
	body := entry.Payload
	if msg, err := envelope.Decode(entry.Payload); err == nil {
		msg.TraceID = result.TraceID
		msg.DeliveryAttempt = 0
		if body, err = envelope.Encode(msg); err != nil {
			h.restore(ctx, rec, prev, entry)
			return ReplayResult{}, err
		}
	} else {
		result.Raw = true
	}
	if err := h.publisher.Publish(ctx, queue.Outgoing{Body: body, TraceID: result.TraceID}); err != nil {
		h.restore(ctx, rec, prev, entry)
		return ReplayResult{}, services.Wrap(services.ErrServiceUnavailable, "deadletter", "replay", "publish", err)
	}
	if err := h.store.MarkReplayed(ctx, envelopeID, h.now().UTC()); err != nil {
		return result, err
	}
	h.logger.Info("dead letter replayed",
		logging.String(logging.FieldEnvelopeID, envelopeID),
		logging.String(logging.FieldTraceID, result.TraceID),
		logging.Bool("raw_payload", result.Raw),
		logging.String(logging.FieldEventType, "dead_letter_replayed"),
	)
	return result, nil
}

func interruptedReplay(rec *state.ProcessingRecord, entry *state.DeadLetter) bool {
	return rec != nil && rec.Status == state.StatusReceived && !entry.Replayed()
}

// restore puts a record reset for replay back to DeadLettered.
func (h *Handler) restore(ctx context.Context, rec, prev *state.ProcessingRecord, entry *state.DeadLetter) {
	if rec == nil {
		return
	}
	rec.Status = state.StatusDeadLettered
	rec.AttemptCount = entry.AttemptCount
	rec.LastError = entry.LastError
	rec.LastErrorKind = entry.ErrorKind
	if prev != nil && prev.Status == state.StatusDeadLettered {
		rec.AttemptCount = prev.AttemptCount
		rec.LastError = prev.LastError
		rec.LastErrorKind = prev.LastErrorKind
		rec.AnalysisJSON = prev.AnalysisJSON
	}
	if err := h.store.UpdateRecord(ctx, rec); err != nil {
		logging.ErrorWithContext(h.logger, "restore dead-lettered record failed", "dead_letter_restore_failed",
			logging.String(logging.FieldEnvelopeID, rec.EnvelopeID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run newsrelay deadletter replay again"),
		)
	}
}
