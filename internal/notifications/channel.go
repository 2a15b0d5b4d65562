package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"newsrelay/internal/config"
	"newsrelay/internal/logging"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
)

const userAgent = "newsrelay/0.1"

// Channel delivers a message to an external service.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Confirmer is implemented by channels that can look up a past delivery.
type Confirmer interface {
	Delivered(ctx context.Context, key string) (bool, error)
}

// NewChannel builds the channel selected in cfg.
func NewChannel(cfg config.Notifications, logger *slog.Logger) (Channel, error) {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	switch cfg.Channel {
	case config.ChannelDiscord:
		if strings.TrimSpace(cfg.DiscordWebhookURL) == "" {
			return nil, services.Wrap(services.ErrConfiguration, stage.Notification, "configure", "discord webhook url missing", nil)
		}
		return NewDiscord(cfg.DiscordWebhookURL, client), nil
	case config.ChannelNtfy:
		if strings.TrimSpace(cfg.NtfyTopic) == "" {
			return nil, services.Wrap(services.ErrConfiguration, stage.Notification, "configure", "ntfy topic missing", nil)
		}
		return NewNtfy(cfg.NtfyServer, cfg.NtfyTopic, client), nil
	case config.ChannelTelegram:
		if strings.TrimSpace(cfg.TelegramBotToken) == "" || cfg.TelegramChatID == 0 {
			return nil, services.Wrap(services.ErrConfiguration, stage.Notification, "configure", "telegram token or chat id missing", nil)
		}
		return NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.TelegramAPIEndpoint, client), nil
	case config.ChannelNone, "":
		return NewLogChannel(logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, stage.Notification, "configure", fmt.Sprintf("unknown channel %q", cfg.Channel), nil)
	}
}

// LogChannel writes notifications to the log only.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel returns a channel that only logs.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logging.NewComponentLogger(logger, "notify-log")}
}

func (c *LogChannel) Name() string { return config.ChannelNone }

func (c *LogChannel) Send(ctx context.Context, msg Message) error {
	logging.WithContext(ctx, c.logger).Info("notification (log only)",
		logging.String(logging.FieldEventType, "notification_logged"),
		logging.String("title", msg.Title),
		logging.String("sentiment", msg.Sentiment),
		logging.Any("tags", msg.Tags),
	)
	return nil
}

// statusError classifies a non-success HTTP response from a channel: rate
// limits and server errors are retryable, other client errors mean the
// endpoint or credentials are wrong.
func statusError(channel string, resp *http.Response, body string) error {
	detail := fmt.Sprintf("%s returned %d: %s", channel, resp.StatusCode, strings.TrimSpace(body))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.ParseFloat(after, 64); err == nil {
				detail += fmt.Sprintf(" (retry after %.1fs)", secs)
			}
		}
		return services.Wrap(services.ErrServiceUnavailable, stage.Notification, "send", detail, nil)
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusRequestTimeout:
		return services.Wrap(services.ErrServiceUnavailable, stage.Notification, "send", detail, nil)
	default:
		return services.Wrap(services.ErrConfiguration, stage.Notification, "send", detail, nil)
	}
}

func transportError(channel string, err error) error {
	return services.Wrap(services.ErrServiceUnavailable, stage.Notification, "send", channel+" unreachable", err)
}
