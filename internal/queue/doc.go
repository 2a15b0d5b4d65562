// Package queue implements the at-least-once message channel between the
// ingestion producer and the pipeline consumers.
//
// Receiving a message hides it for the visibility timeout and increments its
// delivery attempt; a message that is neither acked nor nacked before the
// window closes becomes visible again. Nack makes a message visible again
// after an optional delay, which the orchestrator uses to apply retry backoff.
// Ordering across messages is not guaranteed.
//
// Backends are picked by DSN scheme through Open: SQLite (default, single
// host), Postgres (multi-host, FOR UPDATE SKIP LOCKED), and an in-memory queue
// for tests.
package queue
