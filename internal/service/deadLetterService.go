package service

import (
	"context"

	"github.com/mievst/Cerebrum/internal/database"
	"github.com/mievst/Cerebrum/internal/entity"
)

type deadLetterService struct {
	repo database.DeadLetterRepository
}

// NewDeadLetterService accepts a nil repository when archiving is disabled.
func NewDeadLetterService(repo database.DeadLetterRepository) DeadLetterService {
	return &deadLetterService{repo: repo}
}

func (s *deadLetterService) DeadLetters(ctx context.Context, limit int) ([]*entity.DeadLetter, error) {
	if s.repo == nil {
		return []*entity.DeadLetter{}, nil
	}
	return s.repo.List(ctx, limit)
}

func (s *deadLetterService) DeadLetterStats(ctx context.Context) (*entity.DeadLetterStats, error) {
	if s.repo == nil {
		return &entity.DeadLetterStats{}, nil
	}
	return s.repo.Stats(ctx)
}

func (s *deadLetterService) PurgeDeadLetters(ctx context.Context) (int64, error) {
	if s.repo == nil {
		return 0, nil
	}
	return s.repo.Purge(ctx)
}
