package testsupport

import (
	"path/filepath"
	"testing"

	"newsrelay/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Queue, state and storage live in SQLite files under the temp directory and
// notifications only go to the log.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Queue.DSN = "sqlite://" + filepath.Join(base, "data", "queue.db")
	cfgVal.Queue.ReceiveTimeout = 1
	cfgVal.State.DSN = "sqlite://" + filepath.Join(base, "data", "state.db")
	cfgVal.Storage.Path = filepath.Join(base, "data", "articles.db")
	cfgVal.Notifications.Channel = config.ChannelNone
	cfgVal.LLM.APIKey = "test"
	cfgVal.Producer.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithSource points the feed source at baseURL with test credentials.
func WithSource(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Source.BaseURL = baseURL
		b.cfg.Source.StreamID = "stream-test"
		b.cfg.Source.APIKey = "source-key"
		b.cfg.Source.MaxFetchAttempts = 1
	}
}

// WithLLM points the analysis provider at baseURL using key.
func WithLLM(baseURL, key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = baseURL
		b.cfg.LLM.APIKey = key
	}
}

// WithNtfy routes notifications to an ntfy server.
func WithNtfy(server, topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.Channel = config.ChannelNtfy
		b.cfg.Notifications.NtfyServer = server
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithMemoryBackends keeps queue and state in process.
func WithMemoryBackends() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.DSN = "memory://"
		b.cfg.State.DSN = "memory://"
	}
}

// WithAPIToken requires bearer authentication on the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
