package logs

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"newsrelay/internal/logging"
)

// PruneResult contains the outcome of a run log cleanup.
type PruneResult struct {
	Removed []string
	Errors  []PruneError
}

// PruneError pairs a file path with its cleanup error.
type PruneError struct {
	Path  string
	Error error
}

// PruneRunLogs removes newsrelay-*.log files in logDir older than maxAge.
// keep is never removed, nor is anything when maxAge is not positive.
func PruneRunLogs(logDir string, maxAge time.Duration, keep string, logger *slog.Logger) PruneResult {
	result := PruneResult{}

	logDir = strings.TrimSpace(logDir)
	if logDir == "" || maxAge <= 0 {
		return result
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, PruneError{Path: logDir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "newsrelay-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		path := filepath.Join(logDir, name)
		if path == keep {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove old run log",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "log_prune_failed"),
					logging.String(logging.FieldErrorHint, "check log_dir permissions"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, path)
		if logger != nil {
			logger.Info("removed old run log",
				logging.String("path", path),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "log_prune"),
			)
		}
	}
	return result
}
