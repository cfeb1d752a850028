package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mievst/Cerebrum/internal/entity"

	"github.com/redis/go-redis/v9"
)

type redisRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRepository stores results under prefix+task_id. An empty prefix
// keeps keys compatible with workers that write results to Redis directly.
func NewRedisRepository(client *redis.Client, prefix string, ttl time.Duration) ResultRepository {
	return &redisRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisRepository) key(taskID string) string {
	return r.prefix + taskID
}

func (r *redisRepository) Save(ctx context.Context, taskID string, payload json.RawMessage) error {
	key := r.key(taskID)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, []byte(payload), 0)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save result %s: %w", taskID, err)
	}
	return nil
}

func (r *redisRepository) Get(ctx context.Context, taskID string) (json.RawMessage, error) {
	data, err := r.client.Get(ctx, r.key(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, entity.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result %s: %w", taskID, err)
	}
	return json.RawMessage(data), nil
}

func (r *redisRepository) Expire(ctx context.Context, taskID string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, r.key(taskID), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to set ttl for %s: %w", taskID, err)
	}
	if !ok {
		return entity.ErrResultNotFound
	}
	return nil
}

func (r *redisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
