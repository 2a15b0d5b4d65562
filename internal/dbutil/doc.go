// Package dbutil holds the database plumbing shared by the queue and state
// store backends: DSN parsing, SQLite connection setup with WAL and busy
// retries, and Postgres identifier quoting.
package dbutil
