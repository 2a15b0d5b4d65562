package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	id        int64
	body      []byte
	traceID   string
	attempt   int
	receipt   string
	visibleAt time.Time
	enqueued  time.Time
}

// Memory is a process-local queue with the same visibility semantics as the
// durable backends.
type Memory struct {
	opts Options

	mu       sync.Mutex
	nextID   int64
	messages map[int64]*memoryMessage
}

// NewMemory constructs an empty in-memory queue.
func NewMemory(opts Options) *Memory {
	return &Memory{opts: opts.withDefaults(), messages: make(map[int64]*memoryMessage)}
}

func (m *Memory) Publish(_ context.Context, msg Outgoing) error {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.messages[m.nextID] = &memoryMessage{
		id:        m.nextID,
		body:      append([]byte(nil), msg.Body...),
		traceID:   msg.TraceID,
		visibleAt: now.Add(msg.Delay),
		enqueued:  now,
	}
	return nil
}

func (m *Memory) Receive(ctx context.Context) (*Delivery, error) {
	return pollReceive(ctx, m.opts, m.tryReceive)
}

func (m *Memory) tryReceive(context.Context) (*Delivery, error) {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*memoryMessage
	for _, msg := range m.messages {
		if !msg.visibleAt.After(now) {
			candidates = append(candidates, msg)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].visibleAt.Equal(candidates[j].visibleAt) {
			return candidates[i].id < candidates[j].id
		}
		return candidates[i].visibleAt.Before(candidates[j].visibleAt)
	})
	msg := candidates[0]
	msg.attempt++
	msg.receipt = uuid.NewString()
	msg.visibleAt = now.Add(m.opts.VisibilityTimeout)
	return &Delivery{
		MessageID:       msg.id,
		Receipt:         msg.receipt,
		Body:            append([]byte(nil), msg.body...),
		TraceID:         msg.traceID,
		DeliveryAttempt: msg.attempt,
		EnqueuedAt:      msg.enqueued,
	}, nil
}

func (m *Memory) Ack(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[d.MessageID]
	if !ok || msg.receipt != d.Receipt {
		return ErrStaleReceipt
	}
	delete(m.messages, d.MessageID)
	return nil
}

func (m *Memory) Nack(_ context.Context, d *Delivery, delay time.Duration) error {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[d.MessageID]
	if !ok || msg.receipt != d.Receipt {
		return ErrStaleReceipt
	}
	msg.receipt = ""
	msg.visibleAt = now.Add(max(delay, 0))
	return nil
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats Stats
	for _, msg := range m.messages {
		switch {
		case !msg.visibleAt.After(now):
			stats.Ready++
		case msg.receipt != "":
			stats.InFlight++
		default:
			stats.Delayed++
		}
	}
	return stats, nil
}

func (m *Memory) Close() error { return nil }
