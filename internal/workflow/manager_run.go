package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"newsrelay/internal/logging"
	"newsrelay/internal/services"
	"newsrelay/internal/state"
)

// Start launches the consumers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.pipeline == nil || m.queue == nil {
		m.mu.Unlock()
		return errors.New("workflow pipeline not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.aborted = false
	m.done = make(chan struct{})
	m.wg.Add(m.workers)
	done := m.done
	m.mu.Unlock()

	for i := 0; i < m.workers; i++ {
		worker := fmt.Sprintf("consumer-%d", i+1)
		go m.runWorker(services.WithWorker(runCtx, worker), m.logger.With(logging.String(logging.FieldWorker, worker)))
	}
	go func() {
		m.wg.Wait()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()
	m.logger.Info("consumers started",
		logging.Int("workers", m.workers),
		logging.String(logging.FieldEventType, "consumers_started"),
	)
	return nil
}

// Stop cancels the consumers and waits for in-flight messages to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once every consumer has exited, whether stopped or aborted.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Err returns the configuration error that aborted the consumers, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.aborted {
		return m.lastErr
	}
	return nil
}

func (m *Manager) runWorker(ctx context.Context, logger *slog.Logger) {
	defer m.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		outcome, received, err := m.pipeline.Consume(ctx, m.queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("consume failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "consume_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			if sleepContext(ctx, m.errorWait) != nil {
				return
			}
			continue
		}
		if !received {
			continue
		}
		m.record(outcome)
		if outcome.Action == ActionAbort {
			m.abort(outcome.Err)
			return
		}
	}
}

func (m *Manager) abort(err error) {
	m.mu.Lock()
	m.aborted = true
	m.lastErr = err
	cancel := m.cancel
	m.mu.Unlock()
	logging.ErrorWithContext(m.logger, "consumers stopped by configuration error", "consumers_aborted",
		logging.Error(err),
		logging.Alert("configuration"),
		logging.String(logging.FieldErrorHint, services.Hint(services.KindConfiguration)),
	)
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) record(outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := outcome
	m.lastOutcome = &copy
	switch outcome.Action {
	case ActionAck:
		m.counters.Acked++
		if outcome.Duplicate {
			m.counters.Duplicates++
		}
		if outcome.Status == state.StatusDeadLettered && !outcome.Duplicate {
			m.counters.DeadLettered++
		}
	case ActionNack:
		m.counters.Nacked++
	case ActionAbort:
		m.counters.Aborted++
	}
	if outcome.Err != nil {
		m.lastErr = outcome.Err
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
