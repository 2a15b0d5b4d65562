package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"newsrelay/internal/analysis"
	"newsrelay/internal/api"
	"newsrelay/internal/config"
	"newsrelay/internal/dbutil"
	"newsrelay/internal/deadletter"
	"newsrelay/internal/ingest"
	"newsrelay/internal/logging"
	"newsrelay/internal/notifications"
	"newsrelay/internal/queue"
	"newsrelay/internal/services"
	"newsrelay/internal/services/llm"
	"newsrelay/internal/stage"
	"newsrelay/internal/state"
	"newsrelay/internal/storage"
	"newsrelay/internal/workflow"
)

// Runtime holds every wired component for one configuration.
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	Queue       queue.Queue
	State       *state.Store
	Storage     *storage.GormBackend
	Channel     notifications.Channel
	DeadLetters *deadletter.Handler
	Pipeline    *workflow.Pipeline
	Manager     *workflow.Manager
	// Producer is nil when the source is not configured; ProducerErr says why.
	Producer    *ingest.Producer
	ProducerErr error
	Service     *api.Service
}

// RuntimeOption customizes OpenRuntime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	httpClient *http.Client
	source     ingest.Source
	provider   analysis.Provider
}

// WithHTTPClient sets the client used by the feed and LLM adapters.
func WithHTTPClient(client *http.Client) RuntimeOption {
	return func(o *runtimeOptions) { o.httpClient = client }
}

// WithSource replaces the configured feed source.
func WithSource(source ingest.Source) RuntimeOption {
	return func(o *runtimeOptions) { o.source = source }
}

// WithProvider replaces the configured analysis provider.
func WithProvider(provider analysis.Provider) RuntimeOption {
	return func(o *runtimeOptions) { o.provider = provider }
}

// OpenRuntime builds the pipeline described by cfg. Configuration problems
// wrap services.ErrConfiguration; unreachable stores wrap
// services.ErrServiceUnavailable. A missing source only disables ingest.
func OpenRuntime(cfg *config.Config, logger *slog.Logger, opts ...RuntimeOption) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "open runtime", "config is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}

	rt = &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	if err := validateDSNs(cfg); err != nil {
		return nil, err
	}
	channel, err := notifications.NewChannel(cfg.Notifications, logger)
	if err != nil {
		return nil, err
	}
	rt.Channel = channel

	rt.Queue, err = queue.Open(cfg.Queue.DSN, queue.Options{
		VisibilityTimeout: cfg.VisibilityTimeout(),
		ReceiveTimeout:    cfg.ReceiveTimeout(),
	})
	if err != nil {
		return nil, openError("queue", err)
	}
	rt.State, err = state.Open(cfg.State.DSN)
	if err != nil {
		return nil, openError("state store", err)
	}
	rt.Storage, err = storage.OpenGorm(cfg.Storage.Path)
	if err != nil {
		return nil, openError("article store", err)
	}

	provider := o.provider
	if provider == nil {
		var clientOpts []llm.Option
		if o.httpClient != nil {
			clientOpts = append(clientOpts, llm.WithHTTPClient(o.httpClient))
		}
		provider = analysis.NewLLMProvider(llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}, clientOpts...))
	}
	analysisStage := analysis.NewStage(provider, logger)
	notificationStage := notifications.NewStage(channel, rt.State, logger)
	storageStage := storage.NewStage(rt.Storage, cfg.Pipeline.StorageConflictRetries, logger)

	rt.DeadLetters = deadletter.NewHandler(rt.State, rt.Queue, logger)
	rt.Pipeline = workflow.NewPipeline(rt.State, workflow.StageSet{
		Analysis:     analysisStage,
		Notification: notificationStage,
		Storage:      storageStage,
	}, rt.DeadLetters, workflow.PolicyFromConfig(cfg), logger)

	checkers := []stage.Checker{analysisStage, notificationStage, storageStage}
	source := o.source
	if source == nil {
		source, rt.ProducerErr = ingest.NewFeedSource(cfg.Source, o.httpClient)
	}
	if rt.ProducerErr == nil {
		rt.Producer = ingest.NewProducer(source, rt.Queue, rt.State, ingest.ProducerOptions{
			SourceName:       cfg.Source.Name,
			BatchSize:        cfg.Source.BatchSize,
			MaxFetchAttempts: cfg.Source.MaxFetchAttempts,
			RetryBase:        cfg.BackoffBase(),
			RetryMax:         cfg.BackoffMax(),
			Cooldown:         cfg.RateLimitCooldown(),
		}, logger)
		checkers = append(checkers, rt.Producer)
	}

	rt.Manager = workflow.NewManager(rt.Pipeline, rt.Queue, cfg.Queue.Concurrency, logger,
		workflow.WithHealthChecks(checkers...),
		workflow.WithStatusCounter(rt.State),
	)

	deps := api.Deps{
		Queue:       rt.Queue,
		Pipeline:    rt.Pipeline,
		Manager:     rt.Manager,
		Records:     rt.State,
		DeadLetters: rt.DeadLetters,
		ProducerErr: rt.ProducerErr,
	}
	if rt.Producer != nil {
		deps.Producer = rt.Producer
	}
	rt.Service = api.NewService(deps, logger)
	return rt, nil
}

// Close releases the stores and the queue.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Queue != nil {
		errs = append(errs, r.Queue.Close())
	}
	if r.State != nil {
		errs = append(errs, r.State.Close())
	}
	if r.Storage != nil {
		errs = append(errs, r.Storage.Close())
	}
	return errors.Join(errs...)
}

// PollInterval is the producer loop period.
func (r *Runtime) PollInterval() time.Duration {
	return r.Config.PollInterval()
}

func openError(what string, err error) error {
	if services.KindOf(err) == services.KindConfiguration {
		return err
	}
	return services.Wrap(services.ErrServiceUnavailable, "daemon", "open "+what, "", err)
}

func validateDSNs(cfg *config.Config) error {
	for name, dsn := range map[string]string{"queue.dsn": cfg.Queue.DSN, "state.dsn": cfg.State.DSN} {
		if _, err := dbutil.ParseDSN(dsn); err != nil {
			return services.Wrap(services.ErrConfiguration, "daemon", "open runtime", fmt.Sprintf("%s %q", name, dsn), err)
		}
	}
	return nil
}
