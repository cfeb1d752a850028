package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mievst/Cerebrum/internal/entity"
)

// ResultRepository maps a task id to the result a worker produced for it.
// Save applies the repository TTL; the last writer for a key wins.
type ResultRepository interface {
	Save(ctx context.Context, taskID string, payload json.RawMessage) error
	Get(ctx context.Context, taskID string) (json.RawMessage, error)
	Expire(ctx context.Context, taskID string, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// DeadLetterRepository archives result messages the collector could not store.
type DeadLetterRepository interface {
	Add(ctx context.Context, letter *entity.DeadLetter) error
	List(ctx context.Context, limit int) ([]*entity.DeadLetter, error)
	Stats(ctx context.Context) (*entity.DeadLetterStats, error)
	Purge(ctx context.Context) (int64, error)
}
