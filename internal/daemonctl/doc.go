// Package daemonctl starts and stops a background "newsrelay serve" process.
//
// A running daemon is detected through its instance lock rather than a
// connection, so the CLI works even when the HTTP API is disabled.
package daemonctl
