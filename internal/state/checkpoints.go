package state

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const checkpointsTable = "checkpoints"

// GetCheckpoint returns the named checkpoint. A missing checkpoint is
// returned with Version 0.
func (s *Store) GetCheckpoint(ctx context.Context, name string) (Checkpoint, error) {
	row, err := s.queryRow(ctx, s.sb.Select("name", "source_cursor", "cooldown_until", "version", "updated_at").
		From(checkpointsTable).
		Where(sq.Eq{"name": name}))
	if err != nil {
		return Checkpoint{}, err
	}
	var (
		cp       Checkpoint
		cooldown sql.NullString
		updated  string
	)
	if err := row.Scan(&cp.Name, &cp.Cursor, &cooldown, &cp.Version, &updated); err != nil {
		if isNoRows(err) {
			return Checkpoint{Name: name}, nil
		}
		return Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", name, err)
	}
	cp.CooldownUntil = parseNullableTime(cooldown)
	cp.UpdatedAt = parseTime(updated)
	return cp, nil
}

// SaveCheckpoint writes cp if cp.Version matches the stored version (0 for
// a checkpoint that does not exist yet) and returns it with the new version.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	now, stamp := s.timestamp()
	var (
		res sql.Result
		err error
	)
	if cp.Version == 0 {
		res, err = s.exec(ctx, s.sb.Insert(checkpointsTable).
			Columns("name", "source_cursor", "cooldown_until", "version", "updated_at").
			Values(cp.Name, cp.Cursor, nullableTime(cp.CooldownUntil), 1, stamp).
			Suffix("ON CONFLICT (name) DO NOTHING"))
	} else {
		res, err = s.exec(ctx, s.sb.Update(checkpointsTable).
			Set("source_cursor", cp.Cursor).
			Set("cooldown_until", nullableTime(cp.CooldownUntil)).
			Set("version", cp.Version+1).
			Set("updated_at", stamp).
			Where(sq.Eq{"name": cp.Name, "version": cp.Version}))
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("save checkpoint %s: %w", cp.Name, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return Checkpoint{}, err
	}
	if n == 0 {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint %s at version %d", ErrVersionConflict, cp.Name, cp.Version)
	}
	cp.Version++
	cp.UpdatedAt = now
	return cp, nil
}
