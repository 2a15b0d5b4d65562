package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"newsrelay/internal/config"
	"newsrelay/internal/services"
	"newsrelay/internal/stage"
)

const telegramMessageLimit = 4096

// Telegram sends messages through the Bot API. The bot client is created on
// first use because construction calls getMe.
type Telegram struct {
	token    string
	chatID   int64
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegram builds a Telegram channel. endpoint follows tgbotapi.APIEndpoint.
func NewTelegram(token string, chatID int64, endpoint string, client *http.Client) *Telegram {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{token: token, chatID: chatID, endpoint: endpoint, client: client}
}

func (t *Telegram) Name() string { return config.ChannelTelegram }

func (t *Telegram) api() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, classifyTelegram(err)
	}
	t.bot = bot
	return bot, nil
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrServiceUnavailable, stage.Notification, "send", "telegram", err)
	}
	bot, err := t.api()
	if err != nil {
		return err
	}
	text := fmt.Sprintf("%s\n\n%s", msg.Title, msg.PlainText())
	out := tgbotapi.NewMessage(t.chatID, clip(text, telegramMessageLimit))
	out.DisableWebPagePreview = msg.URL == ""
	if _, err := bot.Send(out); err != nil {
		return classifyTelegram(err)
	}
	return nil
}

func classifyTelegram(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return services.Wrap(services.ErrServiceUnavailable, stage.Notification, "send", "telegram", err)
		case apiErr.Code >= http.StatusBadRequest:
			return services.Wrap(services.ErrConfiguration, stage.Notification, "send", "telegram rejected request", err)
		}
	}
	return services.Wrap(services.ErrServiceUnavailable, stage.Notification, "send", "telegram unreachable", err)
}
