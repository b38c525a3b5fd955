package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raphaelgruber/kintel/internal/models"
)

// MemoryBroker is an in-process queue for single-process deployments and
// tests. Unacked deliveries are lost on restart.
type MemoryBroker struct {
	ch        chan models.TaskPayload
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryBroker(capacity int) *MemoryBroker {
	return &MemoryBroker{
		ch:   make(chan models.TaskPayload, capacity),
		done: make(chan struct{}),
	}
}

func (m *MemoryBroker) Publish(ctx context.Context, payload models.TaskPayload) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- payload:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryBroker) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case p := <-m.ch:
		return &Delivery{Payload: p}, nil
	case <-m.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MemoryBroker) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

type memoryEntry struct {
	rec       models.TaskRecord
	expiresAt time.Time
}

// MemoryBackend keeps task records in a map with lazy expiry.
type MemoryBackend struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryEntry
}

func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{ttl: ttl, now: time.Now, records: map[string]memoryEntry{}}
}

// lookup must be called with mu held.
func (m *MemoryBackend) lookup(taskID string) (memoryEntry, bool) {
	e, ok := m.records[taskID]
	if !ok {
		return e, false
	}
	if m.ttl > 0 && !m.now().Before(e.expiresAt) {
		delete(m.records, taskID)
		return e, false
	}
	return e, true
}

func (m *MemoryBackend) Create(_ context.Context, rec models.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(rec.TaskID); ok {
		return fmt.Errorf("task %s: %w", rec.TaskID, ErrExists)
	}
	m.records[rec.TaskID] = memoryEntry{rec: rec, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, taskID string) (models.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(taskID)
	if !ok {
		return models.TaskRecord{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return e.rec, nil
}

func (m *MemoryBackend) Update(_ context.Context, taskID string, fn func(*models.TaskRecord) error) (models.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(taskID)
	if !ok {
		return models.TaskRecord{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	rec := e.rec
	if err := fn(&rec); err != nil {
		return e.rec, err
	}
	m.records[taskID] = memoryEntry{rec: rec, expiresAt: m.now().Add(m.ttl)}
	return rec, nil
}

func (m *MemoryBackend) Close() error { return nil }
