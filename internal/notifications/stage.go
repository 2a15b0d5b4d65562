package notifications

import (
	"context"
	"log/slog"
	"time"

	"newsrelay/internal/analysis"
	"newsrelay/internal/envelope"
	"newsrelay/internal/logging"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
	"newsrelay/internal/state"
)

// RecordStore is the slice of the state store the stage needs.
type RecordStore interface {
	GetNotification(ctx context.Context, envelopeID string) (*state.NotificationRecord, error)
	PutNotification(ctx context.Context, rec state.NotificationRecord) (state.NotificationRecord, bool, error)
}

// Stage sends each article at most once per envelope id, within the limits
// described in the package documentation.
type Stage struct {
	channel Channel
	store   RecordStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewStage builds the notification stage.
func NewStage(channel Channel, store RecordStore, logger *slog.Logger) *Stage {
	return &Stage{
		channel: channel,
		store:   store,
		logger:  logging.NewComponentLogger(logger, stage.Notification),
		now:     time.Now,
	}
}

// Channel returns the configured channel.
func (s *Stage) Channel() Channel {
	return s.channel
}

// Run delivers the notification for env unless a record already exists.
// resumed is true when a previous attempt may have sent the message
// without recording it.
func (s *Stage) Run(ctx context.Context, env envelope.ArticleEnvelope, result analysis.Result, resumed bool) (state.NotificationRecord, error) {
	if s.channel == nil || s.store == nil {
		return state.NotificationRecord{}, services.Wrap(services.ErrConfiguration, stage.Notification, "run", "notification stage not configured", nil)
	}
	logger := logging.WithContext(ctx, s.logger)

	existing, err := s.store.GetNotification(ctx, env.ID)
	if err != nil {
		return state.NotificationRecord{}, services.Wrap(services.ErrServiceUnavailable, stage.Notification, "lookup", "", err)
	}
	if existing != nil {
		logger.Info("notification already delivered",
			logging.String(logging.FieldDecisionType, "notification_dedup"),
			logging.String("channel", existing.Channel),
		)
		return *existing, nil
	}

	msg := BuildMessage(env, result)
	if resumed {
		if confirmer, ok := s.channel.(Confirmer); ok {
			delivered, err := confirmer.Delivered(ctx, msg.Key)
			switch {
			case err != nil:
				logging.WarnWithContext(logger, "upstream delivery check failed; resending", "notification_confirm_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "a duplicate post is possible"),
				)
			case delivered:
				logger.Info("notification found upstream",
					logging.String(logging.FieldDecisionType, "notification_confirmed"),
				)
				return s.record(ctx, env.ID, state.NotificationConfirmed)
			}
		} else {
			logger.Info("resending without upstream check",
				logging.String(logging.FieldDecisionType, "notification_resend"),
				logging.String("channel", s.channel.Name()),
			)
		}
	}

	if err := s.channel.Send(ctx, msg); err != nil {
		return state.NotificationRecord{}, err
	}
	return s.record(ctx, env.ID, state.NotificationDelivered)
}

func (s *Stage) record(ctx context.Context, envelopeID, status string) (state.NotificationRecord, error) {
	rec, _, err := s.store.PutNotification(ctx, state.NotificationRecord{
		EnvelopeID:  envelopeID,
		Channel:     s.channel.Name(),
		DeliveredAt: s.now().UTC(),
		Status:      status,
	})
	if err != nil {
		return state.NotificationRecord{}, services.Wrap(services.ErrServiceUnavailable, stage.Notification, "record", "delivered but not recorded", err)
	}
	return rec, nil
}

// HealthCheck reports the configured channel.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	if s.channel == nil {
		return stage.Unhealthy(stage.Notification, "no channel")
	}
	return stage.Health{Name: stage.Notification, Ready: true, Detail: s.channel.Name()}
}

// SendTest posts a fixed message through channel.
func SendTest(ctx context.Context, channel Channel) error {
	return channel.Send(ctx, Message{
		Key:       "test",
		Title:     "newsrelay test notification",
		Summary:   "Notification channel is configured correctly.",
		Tags:      []string{"test"},
		Sentiment: analysis.SentimentNeutral,
	})
}
