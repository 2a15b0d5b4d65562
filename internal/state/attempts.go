package state

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const attemptsTable = "processing_attempts"

// AppendAttempt adds one entry to an envelope's attempt history.
func (s *Store) AppendAttempt(ctx context.Context, entry AttemptEntry) error {
	if entry.At.IsZero() {
		entry.At, _ = s.timestamp()
	}
	_, err := s.exec(ctx, s.sb.Insert(attemptsTable).
		Columns("envelope_id", "attempt", "stage", "status", "error_kind", "error", "delivery_attempt", "trace_id", "attempted_at").
		Values(
			entry.EnvelopeID,
			entry.Attempt,
			entry.Stage,
			string(entry.Status),
			entry.ErrorKind,
			entry.Error,
			entry.DeliveryAttempt,
			entry.TraceID,
			formatTime(entry.At),
		))
	if err != nil {
		return fmt.Errorf("append attempt %s: %w", entry.EnvelopeID, err)
	}
	return nil
}

// ListAttempts returns an envelope's attempt history, oldest first.
func (s *Store) ListAttempts(ctx context.Context, envelopeID string) ([]AttemptEntry, error) {
	rows, err := s.query(ctx, s.sb.
		Select("envelope_id", "attempt", "stage", "status", "error_kind", "error", "delivery_attempt", "trace_id", "attempted_at").
		From(attemptsTable).
		Where(sq.Eq{"envelope_id": envelopeID}).
		OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("list attempts %s: %w", envelopeID, err)
	}
	defer rows.Close()

	var out []AttemptEntry
	for rows.Next() {
		var (
			entry      AttemptEntry
			status, at string
		)
		if err := rows.Scan(
			&entry.EnvelopeID,
			&entry.Attempt,
			&entry.Stage,
			&status,
			&entry.ErrorKind,
			&entry.Error,
			&entry.DeliveryAttempt,
			&entry.TraceID,
			&at,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		entry.Status = Status(status)
		entry.At = parseTime(at)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attempts %s: %w", envelopeID, err)
	}
	return out, nil
}
