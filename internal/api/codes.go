package api

import (
	"net/http"

	"newsrelay/internal/services"
	"newsrelay/internal/workflow"
)

// Code classifies the result of an operator call.
type Code string

const (
	CodeAck    Code = "ack"
	CodeEmpty  Code = "empty"
	CodeRetry  Code = "retry"
	CodeFatal  Code = "fatal"
	CodeFailed Code = "failed"
)

// Process exit codes from sysexits.h.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitTempFail = 75
	ExitConfig   = 78
)

// HTTPStatus returns the response status for c.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAck:
		return http.StatusOK
	case CodeEmpty:
		return http.StatusNoContent
	case CodeRetry:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode returns the process exit status for c.
func (c Code) ExitCode() int {
	switch c {
	case CodeAck, CodeEmpty:
		return ExitOK
	case CodeRetry:
		return ExitTempFail
	case CodeFatal:
		return ExitConfig
	default:
		return ExitFailure
	}
}

// CodeForError classifies a failed call.
func CodeForError(err error) Code {
	switch {
	case err == nil:
		return CodeAck
	case services.KindOf(err) == services.KindConfiguration:
		return CodeFatal
	case services.Retryable(err):
		return CodeRetry
	default:
		return CodeFailed
	}
}

// CodeForOutcome classifies a handled delivery.
func CodeForOutcome(outcome workflow.Outcome) Code {
	switch outcome.Action {
	case workflow.ActionAck:
		return CodeAck
	case workflow.ActionNack:
		return CodeRetry
	case workflow.ActionAbort:
		return CodeFatal
	default:
		return CodeFailed
	}
}
