// Package logging assembles structured slog loggers and formatting helpers used
// across newsrelay components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code automatically tags
// log lines with envelope IDs, stages, and trace IDs. A bounded StreamHub fans
// records out to the daemon's event stream. NewNop serves tests and wiring code
// that cannot fail.
package logging
