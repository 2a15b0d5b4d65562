// Package storage persists analyzed articles keyed by envelope id.
//
// Backends expose a versioned upsert: callers pass the version they read
// (0 for "must not exist") and receive the new version or ErrVersionConflict.
// The Stage wraps this in a read-modify-write loop that treats identical
// content as a no-op and retries conflicts with a fresh read.
package storage
