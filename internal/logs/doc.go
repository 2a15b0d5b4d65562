// Package logs reads newsrelay log output for the CLI.
//
// Tail and Follow work on the daemon's log file (the newsrelay.log pointer in
// the log directory) with bounded memory. EventClient subscribes to a running
// daemon's /api/events websocket for live, filtered events.
package logs
