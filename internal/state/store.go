package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"newsrelay/internal/dbutil"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists processing state in SQLite or Postgres.
type Store struct {
	db      *sql.DB
	sb      sq.StatementBuilderType
	backend string
	now     func() time.Time
}

// Open connects to the store named by dsn and applies the schema. memory://
// opens a private in-memory SQLite database.
func Open(dsn string) (*Store, error) {
	target, err := dbutil.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("state dsn: %w", err)
	}
	switch target.Backend {
	case dbutil.BackendSQLite:
		return OpenSQLite(target.Location)
	case dbutil.BackendMemory:
		db, err := dbutil.OpenSQLite(":memory:")
		if err != nil {
			return nil, err
		}
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		return newStore(db, dbutil.BackendSQLite, sq.Question, sqliteSchema)
	case dbutil.BackendPostgres:
		db, err := sql.Open("postgres", target.Location)
		if err != nil {
			return nil, fmt.Errorf("open postgres state store: %w", err)
		}
		return newStore(db, dbutil.BackendPostgres, sq.Dollar, postgresSchema)
	default:
		return nil, fmt.Errorf("state dsn: unsupported backend %q", target.Backend)
	}
}

// OpenSQLite opens or creates a SQLite state database at path.
func OpenSQLite(path string) (*Store, error) {
	db, err := dbutil.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return newStore(db, dbutil.BackendSQLite, sq.Question, sqliteSchema)
}

func newStore(db *sql.DB, backend string, placeholder sq.PlaceholderFormat, schema string) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply state schema: %w", err)
	}
	return &Store{
		db:      db,
		sb:      sq.StatementBuilder.PlaceholderFormat(placeholder),
		backend: backend,
		now:     time.Now,
	}, nil
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Backend names the SQL dialect in use.
func (s *Store) Backend() string {
	return s.backend
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var res sql.Result
	err = dbutil.RetryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

func (s *Store) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

func (s *Store) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) timestamp() (time.Time, string) {
	now := s.now().UTC()
	return now, formatTime(now)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
