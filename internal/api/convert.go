package api

import (
	"time"

	"newsrelay/internal/state"
)

// FromRecord converts a processing record to its API representation.
func FromRecord(rec *state.ProcessingRecord) Record {
	if rec == nil {
		return Record{}
	}
	return Record{
		EnvelopeID:    rec.EnvelopeID,
		Status:        string(rec.Status),
		AttemptCount:  rec.AttemptCount,
		LastError:     rec.LastError,
		LastErrorKind: rec.LastErrorKind,
		Version:       rec.Version,
		CreatedAt:     formatTime(rec.CreatedAt),
		UpdatedAt:     formatTime(rec.UpdatedAt),
	}
}

// FromDeadLetter converts a dead-letter entry. The payload and attempt
// history are included only when detailed is set.
func FromDeadLetter(entry state.DeadLetter, detailed bool) DeadLetter {
	dto := DeadLetter{
		EnvelopeID:    entry.EnvelopeID,
		ErrorKind:     entry.ErrorKind,
		LastError:     entry.LastError,
		AttemptCount:  entry.AttemptCount,
		QuarantinedAt: formatTime(entry.QuarantinedAt),
		ReplayCount:   entry.ReplayCount,
	}
	if entry.ReplayedAt != nil {
		dto.ReplayedAt = formatTime(*entry.ReplayedAt)
	}
	if detailed {
		dto.Attempts = entry.Attempts
		dto.Payload = string(entry.Payload)
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
