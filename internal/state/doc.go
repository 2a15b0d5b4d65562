// Package state persists the processing record of every envelope along with
// notification records, the attempt history, dead-letter entries and the
// producer checkpoint.
//
// Records are keyed by envelope id and written with compare-and-swap on a
// version column so isolated invocations coordinate only through the store.
// SQLite and Postgres are both supported; queries are built with squirrel so
// the two dialects share one code path.
package state
