package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"newsrelay/internal/dbutil"
)

const (
	postgresTableName        = "newsrelay_queue_messages"
	postgresOperationTimeout = 5 * time.Second
)

// Postgres is a multi-host queue. Leases use FOR UPDATE SKIP LOCKED so
// competing consumers never block on each other's rows.
type Postgres struct {
	dsn   string
	table string
	opts  Options

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// OpenPostgres connects and creates the queue table before returning.
func OpenPostgres(dsn string, opts Options) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, dbutil.ErrInvalidDSN
	}
	q := &Postgres{dsn: dsn, table: dbutil.QuoteIdentifier(postgresTableName), opts: opts.withDefaults()}
	if err := q.ensureReady(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Postgres) ensureReady() error {
	q.initOnce.Do(func() {
		db, err := sql.Open("postgres", q.dsn)
		if err != nil {
			q.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
                id BIGSERIAL PRIMARY KEY,
                body BYTEA NOT NULL,
                trace_id TEXT NOT NULL DEFAULT '',
                delivery_attempt INTEGER NOT NULL DEFAULT 0,
                receipt TEXT,
                visible_at BIGINT NOT NULL,
                enqueued_at BIGINT NOT NULL
            )`, q.table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (visible_at, id)`,
				dbutil.QuoteIdentifier(postgresTableName+"_visible_idx"), q.table),
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				q.initErr = fmt.Errorf("create queue schema: %w", err)
				return
			}
		}
		q.db = db
	})
	return q.initErr
}

func (q *Postgres) Publish(ctx context.Context, msg Outgoing) error {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	now := q.opts.Now()
	query := fmt.Sprintf(`INSERT INTO %s (body, trace_id, visible_at, enqueued_at) VALUES ($1, $2, $3, $4)`, q.table)
	if _, err := q.db.ExecContext(ctx, query, msg.Body, msg.TraceID, toMillis(now.Add(msg.Delay)), toMillis(now)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (q *Postgres) Receive(ctx context.Context) (*Delivery, error) {
	return pollReceive(ctx, q.opts, q.tryReceive)
}

func (q *Postgres) tryReceive(ctx context.Context) (*Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	now := q.opts.Now()
	receipt := uuid.NewString()
	query := fmt.Sprintf(`
        UPDATE %[1]s
        SET receipt = $1, delivery_attempt = delivery_attempt + 1, visible_at = $2
        WHERE id = (
            SELECT id FROM %[1]s
            WHERE visible_at <= $3
            ORDER BY visible_at, id
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, body, trace_id, delivery_attempt, enqueued_at`, q.table)

	var (
		d        Delivery
		enqueued int64
	)
	err := q.db.QueryRowContext(ctx, query, receipt, toMillis(now.Add(q.opts.VisibilityTimeout)), toMillis(now)).
		Scan(&d.MessageID, &d.Body, &d.TraceID, &d.DeliveryAttempt, &enqueued)
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

func (q *Postgres) Ack(ctx context.Context, d *Delivery) error {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND receipt = $2`, q.table)
	res, err := q.db.ExecContext(ctx, query, d.MessageID, d.Receipt)
	if err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return requireOneRow(res)
}

func (q *Postgres) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`UPDATE %s SET receipt = NULL, visible_at = $1 WHERE id = $2 AND receipt = $3`, q.table)
	res, err := q.db.ExecContext(ctx, query, toMillis(q.opts.Now().Add(max(delay, 0))), d.MessageID, d.Receipt)
	if err != nil {
		return fmt.Errorf("nack message: %w", err)
	}
	return requireOneRow(res)
}

func (q *Postgres) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`SELECT
            COUNT(*) FILTER (WHERE visible_at <= $1),
            COUNT(*) FILTER (WHERE visible_at > $1 AND receipt IS NOT NULL),
            COUNT(*) FILTER (WHERE visible_at > $1 AND receipt IS NULL)
        FROM %s`, q.table)
	var stats Stats
	if err := q.db.QueryRowContext(ctx, query, toMillis(q.opts.Now())).Scan(&stats.Ready, &stats.InFlight, &stats.Delayed); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

func (q *Postgres) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}
