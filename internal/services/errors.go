package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransientSource    = errors.New("transient source error")
	ErrMalformedData      = errors.New("malformed data")
	ErrServiceUnavailable = errors.New("external service unavailable")
	ErrMalformedResponse  = errors.New("malformed response")
	ErrWriteConflict      = errors.New("storage write conflict")
	ErrConfiguration      = errors.New("configuration error")
	ErrRateLimited        = errors.New("rate limited")
	ErrNotFound           = errors.New("not found")
)

// Kind is the stable classification persisted with failed attempts.
type Kind string

const (
	KindTransientSource    Kind = "transient_source"
	KindMalformedData      Kind = "malformed_data"
	KindServiceUnavailable Kind = "service_unavailable"
	KindMalformedResponse  Kind = "malformed_response"
	KindWriteConflict      Kind = "write_conflict"
	KindConfiguration      Kind = "configuration"
	KindRateLimited        Kind = "rate_limited"
	KindNotFound           Kind = "not_found"
	KindUnknown            Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrServiceUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err against the taxonomy. Deadline expiry counts as the
// dependency being unavailable.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrMalformedData):
		return KindMalformedData
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrWriteConflict):
		return KindWriteConflict
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrTransientSource):
		return KindTransientSource
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindServiceUnavailable
	default:
		return KindUnknown
	}
}

// Retryable reports whether the orchestrator may schedule another attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindMalformedData, KindConfiguration, KindNotFound:
		return false
	default:
		return err != nil
	}
}

// Hint returns the operator-facing next step logged with failures of kind.
func Hint(kind Kind) string {
	switch kind {
	case KindConfiguration:
		return "fix configuration or credentials and restart; the message stays queued"
	case KindMalformedData:
		return "inspect the dead-letter entry payload and replay once the producer is fixed"
	case KindMalformedResponse:
		return "check the analysis model output format"
	case KindServiceUnavailable:
		return "check connectivity to the external service"
	case KindWriteConflict:
		return "concurrent writers touched the same record; retry will re-read"
	case KindRateLimited:
		return "wait for the cooldown to expire"
	case KindTransientSource:
		return "check the news feed availability"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
