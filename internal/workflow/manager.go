package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"newsrelay/internal/logging"
	"newsrelay/internal/queue"
	"newsrelay/internal/stage"
	"newsrelay/internal/state"
)

// Counters tallies handled deliveries since start.
type Counters struct {
	Acked        int64 `json:"acked"`
	Nacked       int64 `json:"nacked"`
	DeadLettered int64 `json:"dead_lettered"`
	Duplicates   int64 `json:"duplicates"`
	Aborted      int64 `json:"aborted"`
}

// StatusCounter is implemented by state stores that can summarize records.
type StatusCounter interface {
	StatusCounts(ctx context.Context) (map[state.Status]int, error)
}

// Manager runs a pool of consumers over one queue.
type Manager struct {
	pipeline  *Pipeline
	queue     queue.Queue
	workers   int
	logger    *slog.Logger
	errorWait time.Duration
	checkers  []stage.Checker
	counter   StatusCounter

	mu          sync.RWMutex
	running     bool
	aborted     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	done        chan struct{}
	lastErr     error
	lastOutcome *Outcome
	counters    Counters
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithHealthChecks adds stage health checks to Status.
func WithHealthChecks(checkers ...stage.Checker) ManagerOption {
	return func(m *Manager) {
		m.checkers = append(m.checkers, checkers...)
	}
}

// WithStatusCounter adds record counts to Status.
func WithStatusCounter(counter StatusCounter) ManagerOption {
	return func(m *Manager) {
		m.counter = counter
	}
}

// WithErrorWait sets the pause after a queue error.
func WithErrorWait(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.errorWait = d
		}
	}
}

// NewManager constructs a consumer pool with workers goroutines.
func NewManager(pipeline *Pipeline, q queue.Queue, workers int, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if workers <= 0 {
		workers = 1
	}
	m := &Manager{
		pipeline:  pipeline,
		queue:     q,
		workers:   workers,
		logger:    logging.NewComponentLogger(logger, "workflow-manager"),
		errorWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
