package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"newsrelay/internal/services"
)

const deadLettersTable = "dead_letters"

var deadLetterColumns = []string{
	"envelope_id",
	"payload",
	"last_error",
	"error_kind",
	"attempt_count",
	"attempts_json",
	"quarantined_at",
	"replayed_at",
	"replay_count",
}

func scanDeadLetter(row rowScanner) (*DeadLetter, error) {
	var (
		entry        DeadLetter
		attemptsJSON string
		quarantined  string
		replayed     sql.NullString
	)
	if err := row.Scan(
		&entry.EnvelopeID,
		&entry.Payload,
		&entry.LastError,
		&entry.ErrorKind,
		&entry.AttemptCount,
		&attemptsJSON,
		&quarantined,
		&replayed,
		&entry.ReplayCount,
	); err != nil {
		return nil, err
	}
	if attemptsJSON != "" {
		if err := json.Unmarshal([]byte(attemptsJSON), &entry.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts for %s: %w", entry.EnvelopeID, err)
		}
	}
	entry.QuarantinedAt = parseTime(quarantined)
	entry.ReplayedAt = parseNullableTime(replayed)
	return &entry, nil
}

// PutDeadLetter quarantines an entry. Quarantining the same envelope again
// (after a replay that failed) replaces the failure details and keeps the
// replay counters.
func (s *Store) PutDeadLetter(ctx context.Context, entry DeadLetter) error {
	if entry.QuarantinedAt.IsZero() {
		entry.QuarantinedAt, _ = s.timestamp()
	}
	attempts := entry.Attempts
	if attempts == nil {
		attempts = []AttemptEntry{}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	payload := entry.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err = s.exec(ctx, s.sb.Insert(deadLettersTable).
		Columns("envelope_id", "payload", "last_error", "error_kind", "attempt_count", "attempts_json", "quarantined_at", "replay_count").
		Values(
			entry.EnvelopeID,
			payload,
			entry.LastError,
			entry.ErrorKind,
			entry.AttemptCount,
			string(attemptsJSON),
			formatTime(entry.QuarantinedAt),
			0,
		).
		Suffix(`ON CONFLICT (envelope_id) DO UPDATE SET
            payload = excluded.payload,
            last_error = excluded.last_error,
            error_kind = excluded.error_kind,
            attempt_count = excluded.attempt_count,
            attempts_json = excluded.attempts_json,
            quarantined_at = excluded.quarantined_at`))
	if err != nil {
		return fmt.Errorf("put dead letter %s: %w", entry.EnvelopeID, err)
	}
	return nil
}

// GetDeadLetter returns the dead-letter entry for envelopeID, or nil.
func (s *Store) GetDeadLetter(ctx context.Context, envelopeID string) (*DeadLetter, error) {
	row, err := s.queryRow(ctx, s.sb.Select(deadLetterColumns...).From(deadLettersTable).Where(sq.Eq{"envelope_id": envelopeID}))
	if err != nil {
		return nil, err
	}
	entry, err := scanDeadLetter(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter %s: %w", envelopeID, err)
	}
	return entry, nil
}

// ListDeadLetters returns quarantined entries, newest first. Entries that
// were replayed and have not failed again are skipped unless includeReplayed.
func (s *Store) ListDeadLetters(ctx context.Context, includeReplayed bool) ([]DeadLetter, error) {
	rows, err := s.query(ctx, s.sb.Select(deadLetterColumns...).From(deadLettersTable).OrderBy("quarantined_at DESC", "envelope_id"))
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if !includeReplayed && entry.Replayed() {
			continue
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return out, nil
}

// MarkReplayed records an operator replay of envelopeID.
func (s *Store) MarkReplayed(ctx context.Context, envelopeID string, at time.Time) error {
	res, err := s.exec(ctx, s.sb.Update(deadLettersTable).
		Set("replayed_at", formatTime(at)).
		Set("replay_count", sq.Expr("replay_count + 1")).
		Where(sq.Eq{"envelope_id": envelopeID}))
	if err != nil {
		return fmt.Errorf("mark replayed %s: %w", envelopeID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: dead letter %s", services.ErrNotFound, envelopeID)
	}
	return nil
}
