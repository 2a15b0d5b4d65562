package api

import (
	"time"

	"newsrelay/internal/deadletter"
	"newsrelay/internal/ingest"
	"newsrelay/internal/state"
	"newsrelay/internal/workflow"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

// IngestResponse reports one producer poll.
type IngestResponse struct {
	Code      Code              `json:"code"`
	Result    ingest.PollResult `json:"result"`
	Error     string            `json:"error,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
}

// ConsumeResponse reports one consumed message.
type ConsumeResponse struct {
	Code       Code   `json:"code"`
	Action     string `json:"action,omitempty"`
	EnvelopeID string `json:"envelope_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	// RetryAfter is the nack delay in seconds.
	RetryAfter float64 `json:"retry_after,omitempty"`
	Error      string  `json:"error,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
}

// Record describes a processing record.
type Record struct {
	EnvelopeID    string `json:"envelope_id"`
	Status        string `json:"status"`
	AttemptCount  int    `json:"attempt_count"`
	LastError     string `json:"last_error,omitempty"`
	LastErrorKind string `json:"last_error_kind,omitempty"`
	Version       int64  `json:"version"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// RecordDetail adds the attempt history and notification record.
type RecordDetail struct {
	Record       Record                    `json:"record"`
	Attempts     []state.AttemptEntry      `json:"attempts"`
	Notification *state.NotificationRecord `json:"notification,omitempty"`
	DeadLetter   *DeadLetter               `json:"dead_letter,omitempty"`
}

// RecordListResponse wraps a collection of records.
type RecordListResponse struct {
	Records []Record `json:"records"`
}

// DeadLetter describes a quarantined entry.
type DeadLetter struct {
	EnvelopeID    string               `json:"envelope_id" yaml:"envelope_id"`
	ErrorKind     string               `json:"error_kind" yaml:"error_kind"`
	LastError     string               `json:"last_error" yaml:"last_error"`
	AttemptCount  int                  `json:"attempt_count" yaml:"attempt_count"`
	QuarantinedAt string               `json:"quarantined_at" yaml:"quarantined_at"`
	ReplayedAt    string               `json:"replayed_at,omitempty" yaml:"replayed_at,omitempty"`
	ReplayCount   int                  `json:"replay_count" yaml:"replay_count"`
	Attempts      []state.AttemptEntry `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Payload       string               `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// DeadLetterListResponse wraps a collection of dead-letter entries.
type DeadLetterListResponse struct {
	Entries []DeadLetter `json:"entries"`
}

// ReplayResponse reports a replayed entry.
type ReplayResponse struct {
	deadletter.ReplayResult
}

// ProducerStatus summarizes the producer.
type ProducerStatus struct {
	Configured bool               `json:"configured"`
	Error      string             `json:"error,omitempty"`
	LastPoll   *ingest.PollResult `json:"last_poll,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
}

// StatusResponse aggregates runtime information.
type StatusResponse struct {
	Consumer workflow.StatusSummary `json:"consumer"`
	Producer ProducerStatus         `json:"producer"`
	Daemon   *DaemonInfo            `json:"daemon,omitempty"`
}

// DaemonInfo is filled in by the daemon when it serves the status.
type DaemonInfo struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	LockPath  string    `json:"lock_path"`
	StartedAt time.Time `json:"started_at"`
}
