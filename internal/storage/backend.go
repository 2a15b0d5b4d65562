package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Backend is the storage capability the stage writes through.
type Backend interface {
	Get(ctx context.Context, id string) (Record, bool, error)
	// Upsert writes rec when the stored version equals expectedVersion (0
	// when no record may exist yet) and returns the new version.
	Upsert(ctx context.Context, id string, rec Record, expectedVersion int64) (int64, error)
}

// Lister is implemented by backends that can enumerate stored records.
type Lister interface {
	List(ctx context.Context, limit int) ([]Record, error)
	Count(ctx context.Context) (int64, error)
}

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record), now: time.Now}
}

func (m *MemoryBackend) Get(_ context.Context, id string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *MemoryBackend) Upsert(_ context.Context, id string, rec Record, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[id]
	switch {
	case !ok && expectedVersion != 0, ok && current.Version != expectedVersion:
		return 0, fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, id, expectedVersion)
	}
	rec.Version = expectedVersion + 1
	rec.StoredAt = m.now().UTC()
	m.records[id] = rec
	return rec.Version, nil
}

func (m *MemoryBackend) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoredAt.After(out[j].StoredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryBackend) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}
