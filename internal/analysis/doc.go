// Package analysis turns an envelope's raw content into a validated Result
// through a pluggable Provider. The LLM provider asks an OpenAI-compatible
// model for a summary, tags, a confidence score, sentiment, key facts and
// related entities.
//
// Provider answers are validated before they are trusted: a missing summary,
// missing tags or a confidence outside [0, 1] is reported as
// services.ErrMalformedResponse. Tags are normalized (trimmed, lower-cased,
// deduplicated and sorted) so a re-analysis after a retry converges on the
// same tag set.
package analysis
