package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mievst/Cerebrum/internal/entity"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultDeadLetterLimit = 50

// deadLetterRepository keeps dead letters in a sorted set scored by failure time.
type deadLetterRepository struct {
	client *redis.Client
	key    string
}

func NewDeadLetterRepository(client *redis.Client, key string) DeadLetterRepository {
	return &deadLetterRepository{client: client, key: key}
}

func (d *deadLetterRepository) Add(ctx context.Context, letter *entity.DeadLetter) error {
	if letter.FailedAt.IsZero() {
		letter.FailedAt = time.Now()
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	score := float64(letter.FailedAt.UnixNano()) / 1e9
	if err := d.client.ZAdd(ctx, d.key, redis.Z{Score: score, Member: data}).Err(); err != nil {
		return fmt.Errorf("failed to store dead letter: %w", err)
	}
	return nil
}

// List returns the newest dead letters first.
func (d *deadLetterRepository) List(ctx context.Context, limit int) ([]*entity.DeadLetter, error) {
	if limit <= 0 {
		limit = defaultDeadLetterLimit
	}

	members, err := d.client.ZRevRange(ctx, d.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letters: %w", err)
	}

	letters := make([]*entity.DeadLetter, 0, len(members))
	for _, member := range members {
		var letter entity.DeadLetter
		if err := json.Unmarshal([]byte(member), &letter); err != nil {
			logrus.WithError(err).Warn("Skipping unreadable dead letter")
			continue
		}
		letters = append(letters, &letter)
	}
	return letters, nil
}

func (d *deadLetterRepository) Stats(ctx context.Context) (*entity.DeadLetterStats, error) {
	count, err := d.client.ZCard(ctx, d.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter count: %w", err)
	}

	stats := &entity.DeadLetterStats{Total: count}
	if count == 0 {
		return stats, nil
	}

	oldest, err := d.client.ZRangeWithScores(ctx, d.key, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest dead letter: %w", err)
	}
	newest, err := d.client.ZRevRangeWithScores(ctx, d.key, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get newest dead letter: %w", err)
	}

	if len(oldest) > 0 {
		stats.OldestFailure = scoreTime(oldest[0].Score)
	}
	if len(newest) > 0 {
		stats.NewestFailure = scoreTime(newest[0].Score)
	}
	return stats, nil
}

func (d *deadLetterRepository) Purge(ctx context.Context) (int64, error) {
	count, err := d.client.ZCard(ctx, d.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get dead letter count: %w", err)
	}
	if err := d.client.Del(ctx, d.key).Err(); err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}
	return count, nil
}

func scoreTime(score float64) time.Time {
	sec := int64(score)
	nsec := int64((score - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
