package worker

import (
	"context"
	"errors"
	"time"

	"github.com/mievst/Cerebrum/internal/entity"
	"github.com/mievst/Cerebrum/internal/pkg/storage"

	"github.com/sirupsen/logrus"
)

// BlobCleanupWorker removes blobs older than the retention window.
type BlobCleanupWorker struct {
	storage   storage.FileStorage
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewBlobCleanupWorker(storage storage.FileStorage, retention, interval time.Duration) *BlobCleanupWorker {
	return &BlobCleanupWorker{
		storage:   storage,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock used to age blobs.
func (w *BlobCleanupWorker) WithClock(now func() time.Time) *BlobCleanupWorker {
	w.now = now
	return w
}

// Start sweeps once immediately and then every interval until ctx is done.
func (w *BlobCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"retention": w.retention.String(),
		"interval":  w.interval.String(),
	}).Info("Blob cleanup worker started")

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Blob cleanup worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *BlobCleanupWorker) sweep(ctx context.Context) {
	deleted, err := w.Sweep(ctx)
	if err != nil {
		logrus.Errorf("Blob cleanup failed: %v", err)
		return
	}
	if deleted > 0 {
		logrus.Infof("Blob cleanup completed: %d files removed", deleted)
	}
}

// Sweep deletes every file whose age exceeds the retention window and
// reports how many were removed.
func (w *BlobCleanupWorker) Sweep(ctx context.Context) (int, error) {
	blobs, err := w.storage.List()
	if err != nil {
		return 0, err
	}

	now := w.now()
	deleted, failed := 0, 0
	for _, blob := range blobs {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if now.Sub(blob.ModTime) <= w.retention {
			continue
		}

		err := w.storage.Delete(blob.Ref)
		switch {
		case err == nil:
			logrus.Debugf("Removed expired file %s", blob.Ref)
			deleted++
		case errors.Is(err, entity.ErrBlobNotFound):
			// removed concurrently
		default:
			logrus.Warnf("Failed to remove %s: %v", blob.Ref, err)
			failed++
		}
	}

	if failed > 0 {
		logrus.Warnf("%d expired files could not be removed", failed)
	}
	return deleted, nil
}
