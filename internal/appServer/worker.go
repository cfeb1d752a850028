package appServer

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/mievst/Cerebrum/config"
	"github.com/mievst/Cerebrum/internal/pkg/storage"
	"github.com/mievst/Cerebrum/internal/worker"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// NewWorker runs one task processor bound to cfg.Worker.Queue.
func NewWorker(cfg *config.Config) {

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var files storage.FileStorage
	if cfg.Worker.Kind == "thumbnail" {
		var err error
		if files, err = storage.NewFileStorage(cfg.Blobs.Root); err != nil {
			logrus.Fatalf("Failed to initialize blob storage: %s", err.Error())
		}
	}

	processor, err := worker.NewProcessor(cfg.Worker.Kind, files, cfg.Worker.ThumbnailWidth, cfg.Worker.ThumbnailHeight)
	if err != nil {
		logrus.Fatalf("Cannot create processor: %s", err.Error())
	}

	consumer := connectBroker(ctx, cfg, "consumer")
	defer consumer.Close()
	publisher := connectBroker(ctx, cfg, "publisher")
	defer publisher.Close()

	runner := worker.NewRunner(consumer, publisher, processor, cfg.Worker.Queue, cfg.Rabbit.ResultsQueue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return watchBroker(gctx, publisher) })

	logrus.WithFields(logrus.Fields{
		"kind":  cfg.Worker.Kind,
		"queue": cfg.Worker.Queue,
	}).Info("Worker Started")

	if err := g.Wait(); err != nil {
		logrus.Fatalf("Worker stopped: %s", err.Error())
	}
	logrus.Print("Worker Stopped")
}
