package state

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const recordsTable = "processing_records"

var recordColumns = []string{
	"envelope_id",
	"status",
	"attempt_count",
	"last_error",
	"last_error_kind",
	"analysis_json",
	"version",
	"created_at",
	"updated_at",
}

func scanRecord(row rowScanner) (*ProcessingRecord, error) {
	var (
		rec              ProcessingRecord
		status           string
		created, updated string
	)
	if err := row.Scan(
		&rec.EnvelopeID,
		&status,
		&rec.AttemptCount,
		&rec.LastError,
		&rec.LastErrorKind,
		&rec.AnalysisJSON,
		&rec.Version,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

// GetRecord returns the processing record for envelopeID, or nil when none exists.
func (s *Store) GetRecord(ctx context.Context, envelopeID string) (*ProcessingRecord, error) {
	row, err := s.queryRow(ctx, s.sb.Select(recordColumns...).From(recordsTable).Where(sq.Eq{"envelope_id": envelopeID}))
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", envelopeID, err)
	}
	return rec, nil
}

// CreateRecord inserts a Received record unless one already exists and
// returns the stored record. created is false when another writer got there first.
func (s *Store) CreateRecord(ctx context.Context, envelopeID string) (*ProcessingRecord, bool, error) {
	_, stamp := s.timestamp()
	res, err := s.exec(ctx, s.sb.Insert(recordsTable).
		Columns("envelope_id", "status", "attempt_count", "version", "created_at", "updated_at").
		Values(envelopeID, string(StatusReceived), 0, 1, stamp, stamp).
		Suffix("ON CONFLICT (envelope_id) DO NOTHING"))
	if err != nil {
		return nil, false, fmt.Errorf("create record %s: %w", envelopeID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return nil, false, err
	}
	rec, err := s.GetRecord(ctx, envelopeID)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, fmt.Errorf("create record %s: row missing after insert", envelopeID)
	}
	return rec, n == 1, nil
}

// UpdateRecord writes rec if its version still matches the stored one and
// bumps rec.Version on success. A stale version returns ErrVersionConflict.
func (s *Store) UpdateRecord(ctx context.Context, rec *ProcessingRecord) error {
	if rec == nil {
		return fmt.Errorf("update record: nil record")
	}
	now, stamp := s.timestamp()
	res, err := s.exec(ctx, s.sb.Update(recordsTable).
		SetMap(map[string]any{
			"status":          string(rec.Status),
			"attempt_count":   rec.AttemptCount,
			"last_error":      rec.LastError,
			"last_error_kind": rec.LastErrorKind,
			"analysis_json":   rec.AnalysisJSON,
			"version":         rec.Version + 1,
			"updated_at":      stamp,
		}).
		Where(sq.Eq{"envelope_id": rec.EnvelopeID, "version": rec.Version}))
	if err != nil {
		return fmt.Errorf("update record %s: %w", rec.EnvelopeID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: record %s at version %d", ErrVersionConflict, rec.EnvelopeID, rec.Version)
	}
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

// ListFilter narrows ListRecords.
type ListFilter struct {
	Statuses []Status
	Limit    uint64
}

// ListRecords returns records, most recently updated first.
func (s *Store) ListRecords(ctx context.Context, filter ListFilter) ([]ProcessingRecord, error) {
	b := s.sb.Select(recordColumns...).From(recordsTable).OrderBy("updated_at DESC", "envelope_id")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		b = b.Where(sq.Eq{"status": statuses})
	}
	if filter.Limit > 0 {
		b = b.Limit(filter.Limit)
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []ProcessingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// StatusCounts returns the number of records per status.
func (s *Store) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.query(ctx, s.sb.Select("status", "COUNT(*)").From(recordsTable).GroupBy("status"))
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	return counts, nil
}

// ResetForReplay moves a dead-lettered envelope back to Received with a
// fresh attempt budget. The attempt history and any notification record are
// kept, so replay never re-sends a delivered notification. A record is
// created when none exists.
func (s *Store) ResetForReplay(ctx context.Context, envelopeID string) (*ProcessingRecord, error) {
	rec, created, err := s.CreateRecord(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if created {
		return rec, nil
	}
	if rec.Status != StatusDeadLettered {
		return nil, fmt.Errorf("reset %s: %w: %s -> %s", envelopeID, ErrInvalidTransition, rec.Status, StatusReceived)
	}
	rec.Status = StatusReceived
	rec.AttemptCount = 0
	rec.LastError = ""
	rec.LastErrorKind = ""
	rec.AnalysisJSON = ""
	if err := s.UpdateRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
