// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp envelope IDs, stage names, and trace
//     identifiers for logging and tracing.
//   - The error taxonomy (sentinel markers plus the Wrap helper) the
//     orchestrator classifies to pick a retry budget or dead-letter a message.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
