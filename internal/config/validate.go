package config

import (
	"errors"
	"fmt"
	"strings"
)

// Notification channel names accepted by notifications.channel.
const (
	ChannelDiscord  = "discord"
	ChannelNtfy     = "ntfy"
	ChannelTelegram = "telegram"
	ChannelNone     = "none"
)

// Validate ensures the configuration is structurally usable. Credentials are
// checked by the Require* helpers so each entry point only demands what it
// actually constructs.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	if err := ensurePositiveMap(map[string]int{
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"queue.receive_timeout":    c.Queue.ReceiveTimeout,
		"queue.concurrency":        c.Queue.Concurrency,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.max_attempts":                c.Pipeline.MaxAttempts,
		"pipeline.malformed_response_attempts": c.Pipeline.MalformedResponseAttempts,
		"pipeline.stage_timeout":               c.Pipeline.StageTimeout,
		"pipeline.invocation_deadline":         c.Pipeline.InvocationDeadline,
		"pipeline.backoff_base_ms":             c.Pipeline.BackoffBaseMillis,
		"pipeline.backoff_max_seconds":         c.Pipeline.BackoffMaxSeconds,
		"pipeline.storage_conflict_retries":    c.Pipeline.StorageConflictRetries,
	}); err != nil {
		return err
	}
	if c.Pipeline.MalformedResponseAttempts > c.Pipeline.MaxAttempts {
		return errors.New("pipeline.malformed_response_attempts must not exceed pipeline.max_attempts")
	}
	if c.Pipeline.InvocationDeadline >= c.Queue.VisibilityTimeout {
		return errors.New("pipeline.invocation_deadline must be shorter than queue.visibility_timeout")
	}
	if c.Pipeline.StageTimeout > c.Pipeline.InvocationDeadline {
		return errors.New("pipeline.stage_timeout must not exceed pipeline.invocation_deadline")
	}
	return nil
}

func (c *Config) validateSource() error {
	if err := ensurePositiveMap(map[string]int{
		"source.batch_size":          c.Source.BatchSize,
		"source.request_timeout":     c.Source.RequestTimeout,
		"source.max_fetch_attempts":  c.Source.MaxFetchAttempts,
		"source.rate_limit_cooldown": c.Source.RateLimitCooldown,
	}); err != nil {
		return err
	}
	if c.Producer.Enabled && c.Producer.PollInterval <= 0 {
		return errors.New("producer.poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	switch c.Notifications.Channel {
	case "", ChannelDiscord, ChannelNtfy, ChannelTelegram, ChannelNone:
		return nil
	default:
		return fmt.Errorf("notifications.channel: unsupported value %q", c.Notifications.Channel)
	}
}

// RequireSource reports missing feed credentials.
func (c *Config) RequireSource() error {
	if strings.TrimSpace(c.Source.APIKey) == "" {
		return fmt.Errorf("source.api_key is required. Set NEWSRELAY_SOURCE_API_KEY or edit %s", configHint())
	}
	if strings.TrimSpace(c.Source.StreamID) == "" {
		return errors.New("source.stream_id is required")
	}
	return nil
}

// RequireAnalysis reports missing analysis provider credentials.
func (c *Config) RequireAnalysis() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required. Set LLM_API_KEY or OPENAI_API_KEY or edit %s", configHint())
	}
	return nil
}

// RequireNotifications reports missing credentials for the selected channel.
func (c *Config) RequireNotifications() error {
	n := c.Notifications
	switch n.Channel {
	case ChannelDiscord:
		if n.DiscordWebhookURL == "" {
			return errors.New("notifications.discord_webhook_url must be set when notifications.channel is discord")
		}
	case ChannelNtfy:
		if n.NtfyTopic == "" {
			return errors.New("notifications.ntfy_topic must be set when notifications.channel is ntfy")
		}
	case ChannelTelegram:
		if n.TelegramBotToken == "" {
			return errors.New("notifications.telegram_bot_token must be set when notifications.channel is telegram")
		}
		if n.TelegramChatID == 0 {
			return errors.New("notifications.telegram_chat_id must be set when notifications.channel is telegram")
		}
	}
	return nil
}

func configHint() string {
	path, err := DefaultConfigPath()
	if err != nil {
		return defaultConfigPath
	}
	return path + " (create with 'newsrelay config init')"
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
