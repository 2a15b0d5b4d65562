// Package llm provides an OpenAI-compatible chat completion client used by
// the analysis stage.
//
// The client sends a system and user prompt with JSON response mode and
// returns the raw JSON content. It does not retry: the pipeline owns the
// attempt budget, so every failure is returned tagged with the matching
// services sentinel:
//
//   - transport errors, timeouts, HTTP 408/429/5xx: services.ErrServiceUnavailable
//   - HTTP 401/403/404 or a missing API key: services.ErrConfiguration
//   - empty content, undecodable bodies, HTTP 400/422: services.ErrMalformedResponse
//
// DecodeLLMJSON tolerates code fences and prose around the JSON object.
package llm
