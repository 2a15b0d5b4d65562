package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"newsrelay/internal/deadletter"
	"newsrelay/internal/ingest"
	"newsrelay/internal/logging"
	"newsrelay/internal/queue"
	"newsrelay/internal/services"
	"newsrelay/internal/state"
	"newsrelay/internal/workflow"
)

// RecordStore is the state store surface the operator views read.
type RecordStore interface {
	GetRecord(ctx context.Context, envelopeID string) (*state.ProcessingRecord, error)
	ListRecords(ctx context.Context, filter state.ListFilter) ([]state.ProcessingRecord, error)
	ListAttempts(ctx context.Context, envelopeID string) ([]state.AttemptEntry, error)
	GetNotification(ctx context.Context, envelopeID string) (*state.NotificationRecord, error)
	GetDeadLetter(ctx context.Context, envelopeID string) (*state.DeadLetter, error)
}

// DeadLetters lists and replays quarantined entries.
type DeadLetters interface {
	List(ctx context.Context, includeReplayed bool) ([]state.DeadLetter, error)
	Get(ctx context.Context, envelopeID string) (*state.DeadLetter, error)
	Replay(ctx context.Context, envelopeID string) (deadletter.ReplayResult, error)
}

// Poller runs one producer poll.
type Poller interface {
	Poll(ctx context.Context) (ingest.PollResult, error)
	Last() (ingest.PollResult, error)
}

// Deps are the wired components a Service operates on.
type Deps struct {
	Queue       queue.Queue
	Pipeline    *workflow.Pipeline
	Manager     *workflow.Manager
	Records     RecordStore
	DeadLetters DeadLetters
	// Producer is nil when the source is not configured; ProducerErr says why.
	Producer    Poller
	ProducerErr error
}

// Service implements the operator operations over one runtime.
type Service struct {
	deps   Deps
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(deps Deps, logger *slog.Logger) *Service {
	return &Service{deps: deps, logger: logging.NewComponentLogger(logger, "api")}
}

// Ingest polls the source once.
func (s *Service) Ingest(ctx context.Context) IngestResponse {
	if s.deps.Producer == nil {
		err := s.deps.ProducerErr
		if err == nil {
			err = services.Wrap(services.ErrConfiguration, "ingest", "configure", "no source configured", nil)
		}
		return IngestResponse{Code: CodeForError(err), Error: err.Error(), ErrorKind: string(services.KindOf(err))}
	}
	result, err := s.deps.Producer.Poll(ctx)
	resp := IngestResponse{Code: CodeForError(err), Result: result}
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = string(services.KindOf(err))
	}
	return resp
}

// Consume handles at most one message.
func (s *Service) Consume(ctx context.Context) ConsumeResponse {
	if s.deps.Pipeline == nil || s.deps.Queue == nil {
		err := services.Wrap(services.ErrConfiguration, "consume", "configure", "pipeline not wired", nil)
		return ConsumeResponse{Code: CodeFatal, Error: err.Error(), ErrorKind: string(services.KindConfiguration)}
	}
	outcome, received, err := s.deps.Pipeline.Consume(ctx, s.deps.Queue)
	if err != nil && !received {
		return ConsumeResponse{Code: CodeForError(err), Error: err.Error(), ErrorKind: string(services.KindOf(err))}
	}
	if !received {
		return ConsumeResponse{Code: CodeEmpty}
	}
	resp := ConsumeResponse{
		Code:       CodeForOutcome(outcome),
		Action:     string(outcome.Action),
		EnvelopeID: outcome.EnvelopeID,
		Status:     string(outcome.Status),
		Duplicate:  outcome.Duplicate,
		RetryAfter: outcome.Delay.Seconds(),
	}
	cause := outcome.Err
	if err != nil {
		// The outcome was decided but the queue did not take the ack or nack.
		cause = err
		if resp.Code == CodeAck {
			resp.Code = CodeForError(err)
		}
	}
	if cause != nil {
		resp.Error = cause.Error()
		resp.ErrorKind = string(services.KindOf(cause))
	}
	return resp
}

// Status returns consumer and producer diagnostics.
func (s *Service) Status(ctx context.Context) StatusResponse {
	var resp StatusResponse
	if s.deps.Manager != nil {
		resp.Consumer = s.deps.Manager.Status(ctx)
	}
	if s.deps.Producer == nil {
		resp.Producer.Configured = false
		if s.deps.ProducerErr != nil {
			resp.Producer.Error = s.deps.ProducerErr.Error()
		}
		return resp
	}
	resp.Producer.Configured = true
	last, err := s.deps.Producer.Last()
	if !last.At.IsZero() {
		resp.Producer.LastPoll = &last
	}
	if err != nil {
		resp.Producer.LastError = err.Error()
	}
	return resp
}

// Records lists processing records, optionally filtered by status.
func (s *Service) Records(ctx context.Context, statuses []string, limit int) ([]Record, error) {
	filter := state.ListFilter{}
	if limit > 0 {
		filter.Limit = uint64(limit)
	}
	for _, raw := range statuses {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status, ok := state.ParseStatus(raw)
		if !ok {
			return nil, services.Wrap(services.ErrMalformedData, "api", "records", "unknown status "+raw, nil)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	records, err := s.deps.Records.ListRecords(ctx, filter)
	if err != nil {
		return nil, services.Wrap(services.ErrServiceUnavailable, "api", "records", "", err)
	}
	out := make([]Record, 0, len(records))
	for i := range records {
		out = append(out, FromRecord(&records[i]))
	}
	return out, nil
}

// Record returns one processing record with its history.
func (s *Service) Record(ctx context.Context, envelopeID string) (RecordDetail, error) {
	envelopeID = strings.TrimSpace(envelopeID)
	rec, err := s.deps.Records.GetRecord(ctx, envelopeID)
	if err != nil {
		return RecordDetail{}, services.Wrap(services.ErrServiceUnavailable, "api", "record", "", err)
	}
	if rec == nil {
		return RecordDetail{}, services.Wrap(services.ErrNotFound, "api", "record", "no record for "+envelopeID, nil)
	}
	detail := RecordDetail{Record: FromRecord(rec)}
	if detail.Attempts, err = s.deps.Records.ListAttempts(ctx, envelopeID); err != nil {
		return RecordDetail{}, services.Wrap(services.ErrServiceUnavailable, "api", "record", "attempts", err)
	}
	if detail.Notification, err = s.deps.Records.GetNotification(ctx, envelopeID); err != nil {
		return RecordDetail{}, services.Wrap(services.ErrServiceUnavailable, "api", "record", "notification", err)
	}
	entry, err := s.deps.Records.GetDeadLetter(ctx, envelopeID)
	if err != nil {
		return RecordDetail{}, services.Wrap(services.ErrServiceUnavailable, "api", "record", "dead letter", err)
	}
	if entry != nil {
		dto := FromDeadLetter(*entry, false)
		detail.DeadLetter = &dto
	}
	return detail, nil
}

// DeadLetterList lists quarantined entries.
func (s *Service) DeadLetterList(ctx context.Context, includeReplayed bool) ([]DeadLetter, error) {
	entries, err := s.deps.DeadLetters.List(ctx, includeReplayed)
	if err != nil {
		return nil, services.Wrap(services.ErrServiceUnavailable, "api", "dead letters", "", err)
	}
	out := make([]DeadLetter, 0, len(entries))
	for _, entry := range entries {
		out = append(out, FromDeadLetter(entry, false))
	}
	return out, nil
}

// DeadLetter returns one entry with its payload and attempt history.
func (s *Service) DeadLetter(ctx context.Context, envelopeID string) (DeadLetter, error) {
	entry, err := s.deps.DeadLetters.Get(ctx, strings.TrimSpace(envelopeID))
	if err != nil {
		return DeadLetter{}, err
	}
	return FromDeadLetter(*entry, true), nil
}

// Replay re-publishes a quarantined entry.
func (s *Service) Replay(ctx context.Context, envelopeID string) (ReplayResponse, error) {
	result, err := s.deps.DeadLetters.Replay(ctx, strings.TrimSpace(envelopeID))
	if err != nil {
		return ReplayResponse{}, err
	}
	s.logger.Info("dead letter replay requested",
		logging.String(logging.FieldEnvelopeID, result.EnvelopeID),
		logging.String(logging.FieldTraceID, result.TraceID),
	)
	return ReplayResponse{ReplayResult: result}, nil
}

// ErrorBody builds the response body for err.
func ErrorBody(err error) ErrorResponse {
	kind := services.KindOf(err)
	body := ErrorResponse{Error: err.Error(), ErrorKind: string(kind)}
	if kind != services.KindUnknown {
		body.Hint = services.Hint(kind)
	}
	return body
}

// IsConflict reports whether err is a rejected state change, such as
// replaying an envelope that is not dead-lettered.
func IsConflict(err error) bool {
	return errors.Is(err, state.ErrInvalidTransition)
}
