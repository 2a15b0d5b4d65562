package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the processing state of an envelope.
type Status string

const (
	StatusReceived     Status = "received"
	StatusAnalyzing    Status = "analyzing"
	StatusAnalyzed     Status = "analyzed"
	StatusNotifying    Status = "notifying"
	StatusNotified     Status = "notified"
	StatusStoring      Status = "storing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

var allStatuses = []Status{
	StatusReceived,
	StatusAnalyzing,
	StatusAnalyzed,
	StatusNotifying,
	StatusNotified,
	StatusStoring,
	StatusCompleted,
	StatusFailed,
	StatusDeadLettered,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// forward lists the single successful step out of each pipeline status.
var forward = map[Status]Status{
	StatusReceived:  StatusAnalyzing,
	StatusAnalyzing: StatusAnalyzed,
	StatusAnalyzed:  StatusNotifying,
	StatusNotifying: StatusNotified,
	StatusNotified:  StatusStoring,
	StatusStoring:   StatusCompleted,
}

var (
	// ErrVersionConflict reports a compare-and-swap write that lost to a concurrent writer.
	ErrVersionConflict = errors.New("state version conflict")
	// ErrInvalidTransition reports a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AllStatuses returns every status in pipeline order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string to a Status.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := statusSet[status]
	return status, ok
}

// Terminal reports whether no further pipeline work happens in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

// Next returns the status reached when the current step succeeds.
func (s Status) Next() (Status, bool) {
	next, ok := forward[s]
	return next, ok
}

// ValidateTransition checks a status change against the state machine:
// one step forward, staying put for a retry, dead-lettering from any
// non-terminal status, and operator replay back to Received.
func ValidateTransition(from, to Status) error {
	switch {
	case from == to && !from.Terminal():
		return nil
	case to == StatusDeadLettered && !from.Terminal():
		return nil
	case to == StatusReceived && from == StatusDeadLettered:
		return nil
	}
	if next, ok := forward[from]; ok && next == to {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ProcessingRecord is the idempotency record for one envelope.
type ProcessingRecord struct {
	EnvelopeID    string
	Status        Status
	AttemptCount  int
	LastError     string
	LastErrorKind string
	// AnalysisJSON holds the confirmed analysis so later stages resume from
	// the store alone.
	AnalysisJSON string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NotificationRecord marks a delivered notification. At most one exists per envelope.
type NotificationRecord struct {
	EnvelopeID  string    `json:"envelope_id" yaml:"envelope_id"`
	Channel     string    `json:"channel" yaml:"channel"`
	DeliveredAt time.Time `json:"delivered_at" yaml:"delivered_at"`
	Status      string    `json:"status" yaml:"status"`
}

// Notification record statuses.
const (
	NotificationDelivered = "delivered"
	NotificationConfirmed = "confirmed"
)

// AttemptEntry is one row of an envelope's attempt history.
type AttemptEntry struct {
	EnvelopeID      string    `json:"envelope_id" yaml:"envelope_id"`
	Attempt         int       `json:"attempt" yaml:"attempt"`
	Stage           string    `json:"stage" yaml:"stage"`
	Status          Status    `json:"status" yaml:"status"`
	ErrorKind       string    `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error           string    `json:"error,omitempty" yaml:"error,omitempty"`
	DeliveryAttempt int       `json:"delivery_attempt" yaml:"delivery_attempt"`
	TraceID         string    `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
	At              time.Time `json:"at" yaml:"at"`
}

// DeadLetter is a quarantined envelope.
type DeadLetter struct {
	EnvelopeID    string         `json:"envelope_id" yaml:"envelope_id"`
	Payload       []byte         `json:"-" yaml:"-"`
	LastError     string         `json:"last_error" yaml:"last_error"`
	ErrorKind     string         `json:"error_kind" yaml:"error_kind"`
	AttemptCount  int            `json:"attempt_count" yaml:"attempt_count"`
	Attempts      []AttemptEntry `json:"attempts" yaml:"attempts"`
	QuarantinedAt time.Time      `json:"quarantined_at" yaml:"quarantined_at"`
	ReplayedAt    *time.Time     `json:"replayed_at,omitempty" yaml:"replayed_at,omitempty"`
	ReplayCount   int            `json:"replay_count" yaml:"replay_count"`
}

// Replayed reports whether the entry has been replayed since it was last quarantined.
func (d DeadLetter) Replayed() bool {
	return d.ReplayedAt != nil && !d.ReplayedAt.Before(d.QuarantinedAt)
}

// Checkpoint is a producer's durable source position.
type Checkpoint struct {
	Name          string
	Cursor        string
	CooldownUntil *time.Time
	Version       int64
	UpdatedAt     time.Time
}

// CoolingDown reports whether a rate-limit cooldown is still active at now.
func (c Checkpoint) CoolingDown(now time.Time) bool {
	return c.CooldownUntil != nil && now.Before(*c.CooldownUntil)
}
