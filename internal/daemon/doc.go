// Package daemon coordinates the long-running newsrelay process.
//
// OpenRuntime wires configuration into the queue, state store, pipeline
// stages, dead-letter handler, producer, and consumer pool. The CLI uses the
// same runtime for one-shot ingest and consume calls. Daemon adds a
// flock-based single-instance lock, the producer loop, and the gin HTTP API
// with its websocket event stream.
//
// Keep orchestration logic here: pipeline behaviour lives in workflow and
// the stage packages while the daemon focuses on startup, shutdown, and
// transport.
package daemon
