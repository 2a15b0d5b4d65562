package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"newsrelay/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Source contains the licensed news feed connection settings.
type Source struct {
	Name              string `toml:"name"`
	BaseURL           string `toml:"base_url"`
	StreamID          string `toml:"stream_id"`
	APIKey            string `toml:"api_key"`
	ClientID          string `toml:"client_id"`
	ClientSecret      string `toml:"client_secret"`
	BatchSize         int    `toml:"batch_size"`
	RequestTimeout    int    `toml:"request_timeout"`
	MaxFetchAttempts  int    `toml:"max_fetch_attempts"`
	RateLimitCooldown int    `toml:"rate_limit_cooldown"`
}

// Queue selects the message queue backend and its delivery windows.
type Queue struct {
	DSN               string `toml:"dsn"`
	VisibilityTimeout int    `toml:"visibility_timeout"`
	ReceiveTimeout    int    `toml:"receive_timeout"`
	Concurrency       int    `toml:"concurrency"`
}

// State selects the dedup/state store database.
type State struct {
	DSN string `toml:"dsn"`
}

// Storage selects the durable analysis result database.
type Storage struct {
	Path string `toml:"path"`
}

// LLM contains the analysis provider connection settings.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications selects the channel analysed articles are announced on.
type Notifications struct {
	Channel             string `toml:"channel"`
	DiscordWebhookURL   string `toml:"discord_webhook_url"`
	NtfyServer          string `toml:"ntfy_server"`
	NtfyTopic           string `toml:"ntfy_topic"`
	TelegramBotToken    string `toml:"telegram_bot_token"`
	TelegramChatID      int64  `toml:"telegram_chat_id"`
	TelegramAPIEndpoint string `toml:"telegram_api_endpoint"`
	RequestTimeout      int    `toml:"request_timeout"`
}

// Pipeline bounds the orchestrator retry and timeout policy.
type Pipeline struct {
	MaxAttempts               int `toml:"max_attempts"`
	MalformedResponseAttempts int `toml:"malformed_response_attempts"`
	StageTimeout              int `toml:"stage_timeout"`
	InvocationDeadline        int `toml:"invocation_deadline"`
	BackoffBaseMillis         int `toml:"backoff_base_ms"`
	BackoffMaxSeconds         int `toml:"backoff_max_seconds"`
	StorageConflictRetries    int `toml:"storage_conflict_retries"`
}

// Producer controls the periodic ingestion loop run by the daemon.
type Producer struct {
	Enabled      bool `toml:"enabled"`
	PollInterval int  `toml:"poll_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for newsrelay.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Source: licensed news feed credentials and fetch policy
//   - Queue: queue backend DSN, visibility window, consumer concurrency
//   - State: dedup/state store DSN
//   - Storage: analysis result database
//   - LLM: analysis provider connection
//   - Notifications: channel selection and credentials
//   - Pipeline: retry budgets, timeouts, backoff
//   - Producer: daemon ingestion loop
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Source        Source        `toml:"source"`
	Queue         Queue         `toml:"queue"`
	State         State         `toml:"state"`
	Storage       Storage       `toml:"storage"`
	LLM           LLM           `toml:"llm"`
	Notifications Notifications `toml:"notifications"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Producer      Producer      `toml:"producer"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Credentials missing
// from the file are filled from the environment, including a .env file next to
// the config or in the working directory. Validation failures carry
// services.ErrConfiguration.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(resolvedPath), ".env"), ".env"); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("%w: parse config: %w", services.ErrConfiguration, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: load %s: %w", services.ErrConfiguration, abs, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("newsrelay.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "newsrelay.lock")
}

// PIDPath records the running daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "newsrelay.pid")
}

// VisibilityTimeout returns the queue visibility window.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.Queue.VisibilityTimeout) * time.Second
}

// ReceiveTimeout returns how long a consumer waits for a message.
func (c *Config) ReceiveTimeout() time.Duration {
	return time.Duration(c.Queue.ReceiveTimeout) * time.Second
}

// StageTimeout returns the per stage call timeout.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeout) * time.Second
}

// InvocationDeadline returns the per message processing deadline.
func (c *Config) InvocationDeadline() time.Duration {
	return time.Duration(c.Pipeline.InvocationDeadline) * time.Second
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Pipeline.BackoffBaseMillis) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Pipeline.BackoffMaxSeconds) * time.Second
}

// PollInterval returns the producer loop interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Producer.PollInterval) * time.Second
}

// RateLimitCooldown returns the minimum producer pause after a rate-limit response.
func (c *Config) RateLimitCooldown() time.Duration {
	return time.Duration(c.Source.RateLimitCooldown) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	masked.Source.APIKey = mask(masked.Source.APIKey)
	masked.Source.ClientSecret = mask(masked.Source.ClientSecret)
	masked.LLM.APIKey = mask(masked.LLM.APIKey)
	masked.Notifications.TelegramBotToken = mask(masked.Notifications.TelegramBotToken)
	masked.Notifications.DiscordWebhookURL = mask(masked.Notifications.DiscordWebhookURL)
	masked.Paths.APIToken = mask(masked.Paths.APIToken)
	return toml.Marshal(masked)
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	return "********"
}
