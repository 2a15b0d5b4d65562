package workflow

import (
	"context"
	"time"

	"newsrelay/internal/analysis"
	"newsrelay/internal/deadletter"
	"newsrelay/internal/envelope"
	"newsrelay/internal/stage"
	"newsrelay/internal/state"
	"newsrelay/internal/storage"
)

// Action tells the consumer what to do with a delivery.
type Action string

const (
	// ActionAck removes the message: the envelope is Completed or DeadLettered.
	ActionAck Action = "ack"
	// ActionNack returns the message for redelivery after Outcome.Delay.
	ActionNack Action = "nack"
	// ActionAbort returns the message and stops consuming: the deployment
	// is misconfigured.
	ActionAbort Action = "abort"
)

// Outcome is the result of handling one delivery.
type Outcome struct {
	Action     Action        `json:"action"`
	Delay      time.Duration `json:"delay"`
	EnvelopeID string        `json:"envelope_id,omitempty"`
	Status     state.Status  `json:"status,omitempty"`
	// Duplicate is set when the envelope had already reached a terminal
	// status before this delivery.
	Duplicate bool  `json:"duplicate,omitempty"`
	Err       error `json:"-"`
}

// StateStore is the state store surface the pipeline reads and writes.
type StateStore interface {
	GetRecord(ctx context.Context, envelopeID string) (*state.ProcessingRecord, error)
	CreateRecord(ctx context.Context, envelopeID string) (*state.ProcessingRecord, bool, error)
	UpdateRecord(ctx context.Context, rec *state.ProcessingRecord) error
	AppendAttempt(ctx context.Context, entry state.AttemptEntry) error
	ListAttempts(ctx context.Context, envelopeID string) ([]state.AttemptEntry, error)
}

// Analyzer runs the analysis stage.
type Analyzer interface {
	Run(ctx context.Context, env envelope.ArticleEnvelope) (analysis.Result, error)
}

// Notifier runs the notification stage. resumed is true when the envelope
// was already Notifying before this attempt.
type Notifier interface {
	Run(ctx context.Context, env envelope.ArticleEnvelope, result analysis.Result, resumed bool) (state.NotificationRecord, error)
}

// Storer runs the storage stage.
type Storer interface {
	Run(ctx context.Context, env envelope.ArticleEnvelope, result analysis.Result) (storage.Record, error)
}

// Quarantiner receives envelopes the pipeline gives up on.
type Quarantiner interface {
	Quarantine(ctx context.Context, entry deadletter.Entry) error
}

// StageSet bundles the concrete stage implementations.
type StageSet struct {
	Analysis     Analyzer
	Notification Notifier
	Storage      Storer
}

type pipelineStage struct {
	name             string
	startStatus      state.Status
	processingStatus state.Status
	doneStatus       state.Status
}

var pipelineStages = []pipelineStage{
	{name: stage.Analysis, startStatus: state.StatusReceived, processingStatus: state.StatusAnalyzing, doneStatus: state.StatusAnalyzed},
	{name: stage.Notification, startStatus: state.StatusAnalyzed, processingStatus: state.StatusNotifying, doneStatus: state.StatusNotified},
	{name: stage.Storage, startStatus: state.StatusNotified, processingStatus: state.StatusStoring, doneStatus: state.StatusCompleted},
}

// stageForStatus returns the stage that moves an envelope out of status,
// whether it is waiting to start or was interrupted mid-stage.
func stageForStatus(status state.Status) (pipelineStage, bool) {
	for _, stg := range pipelineStages {
		if stg.startStatus == status || stg.processingStatus == status {
			return stg, true
		}
	}
	return pipelineStage{}, false
}
