package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"newsrelay/internal/api"
	"newsrelay/internal/logging"
)

// Daemon runs the consumer pool and producer loop and enforces
// single-instance execution.
type Daemon struct {
	rt     *Runtime
	logger *slog.Logger
	hub    *logging.StreamHub

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a daemon over a wired runtime. hub may be nil, in which
// case the event stream stays empty.
func New(rt *Runtime, hub *logging.StreamHub) (*Daemon, error) {
	if rt == nil || rt.Config == nil || rt.Manager == nil {
		return nil, errors.New("daemon requires a wired runtime")
	}
	lockPath := rt.Config.LockPath()
	return &Daemon{
		rt:       rt,
		logger:   logging.NewComponentLogger(rt.Logger, "daemon"),
		hub:      hub,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, then launches the consumers and, when
// enabled, the producer loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another newsrelay daemon instance holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.rt.Manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start consumers: %w", err)
	}
	d.cancel = cancel

	if d.rt.Config.Producer.Enabled {
		if d.rt.Producer == nil {
			logging.WarnWithContext(d.logger, "producer disabled: source not configured", "producer_unavailable",
				logging.Error(d.rt.ProducerErr),
				logging.String(logging.FieldErrorHint, "set source.base_url, source.stream_id and source.api_key"),
			)
		} else {
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				if err := d.rt.Producer.Run(runCtx, d.rt.PollInterval()); err != nil {
					d.logger.Error("producer loop stopped", logging.Error(err))
				}
			}()
		}
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("newsrelay daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.rt.Config.Queue.Concurrency),
		logging.Bool("producer", d.rt.Config.Producer.Enabled && d.rt.Producer != nil),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.rt.Manager.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("newsrelay daemon stopped")
}

// Close stops the daemon and releases the runtime.
func (d *Daemon) Close() error {
	d.Stop()
	return d.rt.Close()
}

// Done is closed when the consumer pool exits, including after a
// configuration abort.
func (d *Daemon) Done() <-chan struct{} {
	return d.rt.Manager.Done()
}

// Err reports why the consumer pool stopped.
func (d *Daemon) Err() error {
	return d.rt.Manager.Err()
}

// Service returns the operator service.
func (d *Daemon) Service() *api.Service {
	return d.rt.Service
}

// LogStream returns the event hub.
func (d *Daemon) LogStream() *logging.StreamHub {
	return d.hub
}

// Status returns the runtime status with daemon details.
func (d *Daemon) Status(ctx context.Context) api.StatusResponse {
	status := d.rt.Service.Status(ctx)
	status.Daemon = &api.DaemonInfo{
		Running:   d.running.Load(),
		PID:       os.Getpid(),
		LockPath:  d.lockPath,
		StartedAt: d.startedAt,
	}
	return status
}
