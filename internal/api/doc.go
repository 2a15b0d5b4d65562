// Package api is the operator surface shared by the HTTP server and the CLI.
// It turns pipeline outcomes into transport-friendly DTOs and maps them to
// HTTP status codes and process exit codes.
//
// # Result codes
//
// Every ingest or consume call resolves to a Code:
//
//	ack      HTTP 200  exit 0   message handled, or poll published its batch
//	empty    HTTP 204  exit 0   no visible message
//	retry    HTTP 202  exit 75  retryable failure; the message stays queued
//	fatal    HTTP 500  exit 78  configuration error; error_kind=configuration
//	failed   HTTP 500  exit 1   any other non-retryable failure
//
// # Key Types
//
// Service: ingest, consume, status, record, and dead-letter operations over
// one wired runtime.
//
// Record/RecordDetail: processing record with attempt history and the
// notification record, if any.
//
// DeadLetter: quarantined entry with its payload rendered as text.
package api
