package database

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mievst/Cerebrum/internal/entity"
)

type memoryEntry struct {
	data      json.RawMessage
	expiresAt time.Time
}

// memoryRepository keeps results in process. Expired entries are dropped
// lazily on access.
type memoryRepository struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRepository(ttl time.Duration, now func() time.Time) ResultRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryRepository{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     now,
	}
}

func (r *memoryRepository) Save(ctx context.Context, taskID string, payload json.RawMessage) error {
	data := make(json.RawMessage, len(payload))
	copy(data, payload)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[taskID] = memoryEntry{data: data, expiresAt: r.now().Add(r.ttl)}
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, taskID string) (json.RawMessage, error) {
	r.mu.RLock()
	entry, ok := r.entries[taskID]
	r.mu.RUnlock()

	if !ok {
		return nil, entity.ErrResultNotFound
	}
	if !r.now().Before(entry.expiresAt) {
		r.mu.Lock()
		if current, still := r.entries[taskID]; still && !r.now().Before(current.expiresAt) {
			delete(r.entries, taskID)
		}
		r.mu.Unlock()
		return nil, entity.ErrResultNotFound
	}
	return entry.data, nil
}

func (r *memoryRepository) Expire(ctx context.Context, taskID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[taskID]
	if !ok || !r.now().Before(entry.expiresAt) {
		return entity.ErrResultNotFound
	}
	entry.expiresAt = r.now().Add(ttl)
	r.entries[taskID] = entry
	return nil
}

func (r *memoryRepository) Ping(ctx context.Context) error {
	return nil
}
