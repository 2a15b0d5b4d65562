// Package envelope defines the canonical article record that travels through
// the pipeline and its JSON wire codec.
//
// Envelope identifiers are derived deterministically from the source name and
// the feed's native article id, so re-fetching the same article always yields
// the same id and downstream dedup keys stay stable. Decode validates payloads
// against an embedded JSON Schema; anything that does not conform is reported
// as services.ErrMalformedData and must never be retried.
package envelope
