package dbutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Backend names resolved from a DSN scheme.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ErrInvalidDSN reports a DSN that names no usable location.
var ErrInvalidDSN = errors.New("invalid dsn")

// Target is a parsed DSN: the backend and the string to hand its driver.
type Target struct {
	Backend string
	// Location is a filesystem path for sqlite and the full DSN for postgres.
	Location string
}

// ParseDSN resolves dsn into a backend. Bare paths are SQLite files.
func ParseDSN(dsn string) (Target, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return Target{}, ErrInvalidDSN
	}
	if !strings.Contains(dsn, "://") {
		return Target{Backend: BackendSQLite, Location: dsn}, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidDSN, err)
	}
	switch scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme)); scheme {
	case "sqlite", "sqlite3", "file":
		path := strings.TrimSpace(parsed.Path)
		if parsed.Host != "" {
			path = parsed.Host + path
		}
		if path == "" {
			path = strings.TrimSpace(parsed.Opaque)
		}
		if path == "" {
			return Target{}, ErrInvalidDSN
		}
		return Target{Backend: BackendSQLite, Location: path}, nil
	case "postgres", "postgresql":
		return Target{Backend: BackendPostgres, Location: dsn}, nil
	case "memory", "mem", "inmem":
		return Target{Backend: BackendMemory}, nil
	default:
		return Target{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDSN, scheme)
	}
}
