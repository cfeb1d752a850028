package service

import (
	"context"
	"encoding/json"
	"io"

	"github.com/mievst/Cerebrum/internal/entity"
)

type TaskService interface {
	// SubmitTask assigns a task id and routes the payload to its queue.
	SubmitTask(ctx context.Context, payload entity.Payload) (string, error)
	GetResult(ctx context.Context, taskID string) (json.RawMessage, error)
}

type BlobService interface {
	UploadBlob(ctx context.Context, filename string, data io.Reader) (string, error)
	OpenBlob(ctx context.Context, ref string) (io.ReadCloser, error)
}

type DeadLetterService interface {
	DeadLetters(ctx context.Context, limit int) ([]*entity.DeadLetter, error)
	DeadLetterStats(ctx context.Context) (*entity.DeadLetterStats, error)
	PurgeDeadLetters(ctx context.Context) (int64, error)
}

// HealthChecker reports the state of one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name  string
	check func(ctx context.Context) error
}

// NewHealthChecker adapts a function to HealthChecker.
func NewHealthChecker(name string, check func(ctx context.Context) error) HealthChecker {
	return &checkerFunc{name: name, check: check}
}

func (c *checkerFunc) Name() string { return c.name }

func (c *checkerFunc) Check(ctx context.Context) error { return c.check(ctx) }
