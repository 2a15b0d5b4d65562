package config

const (
	defaultConfigPath                = "~/.config/newsrelay/config.toml"
	defaultDataDir                   = "~/.local/share/newsrelay"
	defaultLogDir                    = "~/.local/share/newsrelay/logs"
	defaultAPIBind                   = "127.0.0.1:7490"
	defaultSourceName                = "factiva"
	defaultSourceBaseURL             = "https://api.dowjones.com/alpha"
	defaultSourceBatchSize           = 50
	defaultSourceRequestTimeout      = 30
	defaultSourceMaxFetchAttempts    = 4
	defaultSourceRateLimitCooldown   = 60
	defaultQueueVisibilityTimeout    = 300
	defaultQueueReceiveTimeout       = 5
	defaultQueueConcurrency          = 2
	defaultLLMBaseURL                = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel                  = "gpt-4o-mini"
	defaultLLMTitle                  = "newsrelay analysis"
	defaultLLMTimeoutSeconds         = 60
	defaultNotifyRequestTimeout      = 10
	defaultNtfyServer                = "https://ntfy.sh"
	defaultTelegramAPIEndpoint       = "https://api.telegram.org/bot%s/%s"
	defaultPipelineMaxAttempts       = 5
	defaultMalformedResponseAttempts = 2
	defaultStageTimeout              = 60
	defaultInvocationDeadline        = 240
	defaultBackoffBaseMillis         = 1000
	defaultBackoffMaxSeconds         = 120
	defaultStorageConflictRetries    = 3
	defaultProducerPollInterval      = 300
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Source: Source{
			Name:              defaultSourceName,
			BaseURL:           defaultSourceBaseURL,
			BatchSize:         defaultSourceBatchSize,
			RequestTimeout:    defaultSourceRequestTimeout,
			MaxFetchAttempts:  defaultSourceMaxFetchAttempts,
			RateLimitCooldown: defaultSourceRateLimitCooldown,
		},
		Queue: Queue{
			VisibilityTimeout: defaultQueueVisibilityTimeout,
			ReceiveTimeout:    defaultQueueReceiveTimeout,
			Concurrency:       defaultQueueConcurrency,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Notifications: Notifications{
			NtfyServer:          defaultNtfyServer,
			TelegramAPIEndpoint: defaultTelegramAPIEndpoint,
			RequestTimeout:      defaultNotifyRequestTimeout,
		},
		Pipeline: Pipeline{
			MaxAttempts:               defaultPipelineMaxAttempts,
			MalformedResponseAttempts: defaultMalformedResponseAttempts,
			StageTimeout:              defaultStageTimeout,
			InvocationDeadline:        defaultInvocationDeadline,
			BackoffBaseMillis:         defaultBackoffBaseMillis,
			BackoffMaxSeconds:         defaultBackoffMaxSeconds,
			StorageConflictRetries:    defaultStorageConflictRetries,
		},
		Producer: Producer{
			Enabled:      true,
			PollInterval: defaultProducerPollInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: 14,
		},
	}
}
