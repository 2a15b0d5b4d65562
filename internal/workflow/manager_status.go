package workflow

import (
	"context"

	"newsrelay/internal/logging"
	"newsrelay/internal/queue"
	"newsrelay/internal/stage"
	"newsrelay/internal/state"
)

// StatusSummary represents lightweight consumer diagnostics.
type StatusSummary struct {
	Running      bool                 `json:"running"`
	Aborted      bool                 `json:"aborted"`
	Workers      int                  `json:"workers"`
	LastError    string               `json:"last_error,omitempty"`
	LastOutcome  *Outcome             `json:"last_outcome,omitempty"`
	Counters     Counters             `json:"counters"`
	QueueStats   queue.Stats          `json:"queue"`
	RecordCounts map[state.Status]int `json:"records,omitempty"`
	StageHealth  []stage.Health       `json:"stages"`
	Ready        bool                 `json:"ready"`
}

// Status returns the latest consumer information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:  m.running,
		Aborted:  m.aborted,
		Workers:  m.workers,
		Counters: m.counters,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastOutcome != nil {
		copy := *m.lastOutcome
		summary.LastOutcome = &copy
	}
	m.mu.RUnlock()

	if m.queue != nil {
		stats, err := m.queue.Stats(ctx)
		if err != nil {
			m.logger.Warn("failed to read queue stats", logging.Error(err))
		}
		summary.QueueStats = stats
	}
	if m.counter != nil {
		counts, err := m.counter.StatusCounts(ctx)
		if err != nil {
			m.logger.Warn("failed to read record counts", logging.Error(err))
		}
		summary.RecordCounts = counts
	}
	summary.StageHealth, summary.Ready = stage.CheckAll(ctx, m.checkers...)
	return summary
}
