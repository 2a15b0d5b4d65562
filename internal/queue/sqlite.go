package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"newsrelay/internal/dbutil"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queue_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    body BLOB NOT NULL,
    trace_id TEXT NOT NULL DEFAULT '',
    delivery_attempt INTEGER NOT NULL DEFAULT 0,
    receipt TEXT,
    visible_at INTEGER NOT NULL,
    enqueued_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_messages_visible ON queue_messages (visible_at, id);
`

// SQLite is a durable single-host queue.
type SQLite struct {
	db   *sql.DB
	path string
	opts Options
}

// OpenSQLite opens or creates the queue database at path.
func OpenSQLite(path string, opts Options) (*SQLite, error) {
	db, err := dbutil.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}
	return &SQLite{db: db, path: path, opts: opts.withDefaults()}, nil
}

func (q *SQLite) Publish(ctx context.Context, msg Outgoing) error {
	now := q.opts.Now()
	err := dbutil.RetryOnBusy(ctx, func() error {
		_, err := q.db.ExecContext(ctx,
			`INSERT INTO queue_messages (body, trace_id, visible_at, enqueued_at) VALUES (?, ?, ?, ?)`,
			msg.Body, msg.TraceID, toMillis(now.Add(msg.Delay)), toMillis(now),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (q *SQLite) Receive(ctx context.Context) (*Delivery, error) {
	return pollReceive(ctx, q.opts, q.tryReceive)
}

// tryReceive leases the oldest visible message in a single statement so
// concurrent consumers never share a lease.
func (q *SQLite) tryReceive(ctx context.Context) (*Delivery, error) {
	now := q.opts.Now()
	receipt := uuid.NewString()
	var (
		d        Delivery
		enqueued int64
	)
	err := dbutil.RetryOnBusy(ctx, func() error {
		return q.db.QueryRowContext(ctx,
			`UPDATE queue_messages
             SET receipt = ?, delivery_attempt = delivery_attempt + 1, visible_at = ?
             WHERE id = (
                 SELECT id FROM queue_messages WHERE visible_at <= ? ORDER BY visible_at, id LIMIT 1
             )
             RETURNING id, body, trace_id, delivery_attempt, enqueued_at`,
			receipt, toMillis(now.Add(q.opts.VisibilityTimeout)), toMillis(now),
		).Scan(&d.MessageID, &d.Body, &d.TraceID, &d.DeliveryAttempt, &enqueued)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	d.Receipt = receipt
	d.EnqueuedAt = fromMillis(enqueued)
	return &d, nil
}

func (q *SQLite) Ack(ctx context.Context, d *Delivery) error {
	var res sql.Result
	err := dbutil.RetryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = q.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ? AND receipt = ?`, d.MessageID, d.Receipt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return requireOneRow(res)
}

func (q *SQLite) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	visibleAt := q.opts.Now().Add(max(delay, 0))
	var res sql.Result
	err := dbutil.RetryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = q.db.ExecContext(ctx,
			`UPDATE queue_messages SET receipt = NULL, visible_at = ? WHERE id = ? AND receipt = ?`,
			toMillis(visibleAt), d.MessageID, d.Receipt,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("nack message: %w", err)
	}
	return requireOneRow(res)
}

func (q *SQLite) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := q.db.QueryRowContext(ctx,
		`SELECT
             COALESCE(SUM(CASE WHEN visible_at <= ? THEN 1 ELSE 0 END), 0),
             COALESCE(SUM(CASE WHEN visible_at > ? AND receipt IS NOT NULL THEN 1 ELSE 0 END), 0),
             COALESCE(SUM(CASE WHEN visible_at > ? AND receipt IS NULL THEN 1 ELSE 0 END), 0)
         FROM queue_messages`,
		toMillis(q.opts.Now()), toMillis(q.opts.Now()), toMillis(q.opts.Now()),
	).Scan(&stats.Ready, &stats.InFlight, &stats.Delayed)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

// Close closes the underlying database connection.
func (q *SQLite) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrStaleReceipt
	}
	return nil
}
