package queue

import (
	"fmt"

	"newsrelay/internal/dbutil"
)

// Open builds the queue backend named by dsn.
func Open(dsn string, opts Options) (Queue, error) {
	target, err := dbutil.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("queue dsn: %w", err)
	}
	switch target.Backend {
	case dbutil.BackendSQLite:
		return OpenSQLite(target.Location, opts)
	case dbutil.BackendPostgres:
		return OpenPostgres(target.Location, opts)
	case dbutil.BackendMemory:
		return NewMemory(opts), nil
	default:
		return nil, fmt.Errorf("queue dsn: unsupported backend %q", target.Backend)
	}
}
