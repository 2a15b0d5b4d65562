package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSource()
	c.normalizeStores()
	c.normalizeLLM()
	if err := c.normalizeNotifications(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("NEWSRELAY_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeSource() {
	fill := func(target *string, env string) {
		if strings.TrimSpace(*target) != "" {
			*target = strings.TrimSpace(*target)
			return
		}
		if value, ok := os.LookupEnv(env); ok {
			*target = strings.TrimSpace(value)
		}
	}
	fill(&c.Source.APIKey, "NEWSRELAY_SOURCE_API_KEY")
	fill(&c.Source.ClientID, "NEWSRELAY_SOURCE_CLIENT_ID")
	fill(&c.Source.ClientSecret, "NEWSRELAY_SOURCE_CLIENT_SECRET")
	fill(&c.Source.StreamID, "NEWSRELAY_SOURCE_STREAM_ID")
	c.Source.Name = strings.ToLower(strings.TrimSpace(c.Source.Name))
	if c.Source.Name == "" {
		c.Source.Name = defaultSourceName
	}
	c.Source.BaseURL = strings.TrimRight(strings.TrimSpace(c.Source.BaseURL), "/")
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = defaultSourceBaseURL
	}
}

// normalizeStores points empty DSNs at SQLite files inside the data directory.
func (c *Config) normalizeStores() {
	c.Queue.DSN = strings.TrimSpace(c.Queue.DSN)
	if c.Queue.DSN == "" {
		c.Queue.DSN = "sqlite://" + filepath.Join(c.Paths.DataDir, "queue.db")
	}
	c.State.DSN = strings.TrimSpace(c.State.DSN)
	if c.State.DSN == "" {
		c.State.DSN = "sqlite://" + filepath.Join(c.Paths.DataDir, "state.db")
	}
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.Paths.DataDir, "articles.db")
	} else if expanded, err := expandPath(c.Storage.Path); err == nil {
		c.Storage.Path = expanded
	}
}

func (c *Config) normalizeLLM() {
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
}

func (c *Config) normalizeNotifications() error {
	n := &c.Notifications
	if n.DiscordWebhookURL == "" {
		if value, ok := os.LookupEnv("DISCORD_WEBHOOK_URL"); ok {
			n.DiscordWebhookURL = strings.TrimSpace(value)
		}
	}
	if n.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			n.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if n.TelegramBotToken == "" {
		if value, ok := os.LookupEnv("TELEGRAM_BOT_TOKEN"); ok {
			n.TelegramBotToken = strings.TrimSpace(value)
		}
	}
	if n.TelegramChatID == 0 {
		if value, ok := os.LookupEnv("TELEGRAM_CHAT_ID"); ok && strings.TrimSpace(value) != "" {
			id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
			}
			n.TelegramChatID = id
		}
	}
	n.NtfyServer = strings.TrimRight(strings.TrimSpace(n.NtfyServer), "/")
	if n.NtfyServer == "" {
		n.NtfyServer = defaultNtfyServer
	}
	if strings.TrimSpace(n.TelegramAPIEndpoint) == "" {
		n.TelegramAPIEndpoint = defaultTelegramAPIEndpoint
	}

	n.Channel = strings.ToLower(strings.TrimSpace(n.Channel))
	if n.Channel == "" {
		switch {
		case n.DiscordWebhookURL != "":
			n.Channel = ChannelDiscord
		case n.TelegramBotToken != "":
			n.Channel = ChannelTelegram
		case n.NtfyTopic != "":
			n.Channel = ChannelNtfy
		default:
			n.Channel = ChannelNone
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
