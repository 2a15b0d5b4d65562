package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"newsrelay/internal/config"
	"newsrelay/internal/daemon"
	"newsrelay/internal/logging"
	"newsrelay/internal/logs"
	"newsrelay/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the newsrelay daemon and blocks until a signal arrives or the
// consumers abort on a configuration error, which is returned.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("newsrelay-%s.log", runID))
	logHub := logging.NewStreamHub(4096)

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
		Hub:         logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logConfigSnapshot(logger, cfg)
	for _, check := range preflight.Failed(preflight.RunAll(signalCtx, cfg, preflight.Options{})) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldErrorHint, "run newsrelay preflight --network"),
		)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update newsrelay.log link: %v\n", err)
	}
	retention := time.Duration(cfg.Logging.RetentionDays) * 24 * time.Hour
	logs.PruneRunLogs(cfg.Paths.LogDir, retention, logPath, logger)
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := daemon.OpenRuntime(cfg, logger)
	if err != nil {
		logger.Error("open runtime", logging.Error(err))
		return err
	}
	d, err := daemon.New(rt, logHub)
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for another running daemon and database access"),
		)
		return err
	}

	server := daemon.NewAPIServer(d)
	if err := server.Start(signalCtx); err != nil {
		return err
	}
	defer server.Stop()

	select {
	case <-signalCtx.Done():
		logger.Info("newsrelay daemon shutting down")
		return nil
	case <-d.Done():
		if err := d.Err(); err != nil {
			logger.Error("consumers aborted", logging.Error(err), logging.Alert("configuration"))
			return err
		}
		return nil
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "newsrelay.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("source", cfg.Source.Name),
		logging.Bool("source_key_present", strings.TrimSpace(cfg.Source.APIKey) != ""),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.String("llm_model", cfg.LLM.Model),
		logging.String("notification_channel", cfg.Notifications.Channel),
		logging.String("queue_backend", backendName(cfg.Queue.DSN)),
		logging.String("state_backend", backendName(cfg.State.DSN)),
		logging.Int("workers", cfg.Queue.Concurrency),
		logging.Bool("producer_enabled", cfg.Producer.Enabled),
	)
}

// backendName keeps credentials in postgres DSNs out of the log.
func backendName(dsn string) string {
	if scheme, _, ok := strings.Cut(dsn, "://"); ok {
		return scheme
	}
	return "sqlite"
}
