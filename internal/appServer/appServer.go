// launching the gateway: HTTP server, result collector, blob cleanup
package appServer

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mievst/Cerebrum/config"
	"github.com/mievst/Cerebrum/internal/database"
	"github.com/mievst/Cerebrum/internal/pkg/kafka"
	"github.com/mievst/Cerebrum/internal/pkg/storage"
	"github.com/mievst/Cerebrum/internal/rabbitMQ"
	"github.com/mievst/Cerebrum/internal/service"
	"github.com/mievst/Cerebrum/internal/transport"
	"github.com/mievst/Cerebrum/internal/worker"
	redisClient "github.com/mievst/Cerebrum/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	httpServer *http.Server
}

// NewHTTPServer bounds body reads and response writes by
// server.upload_timeout so large blobs are not cut off by server.timeout.
func NewHTTPServer(cfg *config.Config, handler http.Handler) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       maxDuration(cfg.Server.Timeout, cfg.Server.UploadTimeout),
		WriteTimeout:      maxDuration(cfg.Server.Timeout, cfg.Server.UploadTimeout),
		IdleTimeout:       cfg.Server.Idle_timeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags),
	}}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	if cfg.Server.Env == "production" {
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func rabbitConfig(cfg *config.Config) rabbitMQ.Config {
	return rabbitMQ.Config{
		URL:               cfg.RabbitURL(),
		Prefetch:          cfg.Rabbit.Prefetch,
		PublishAttempts:   cfg.Rabbit.PublishAttempts,
		PublishRetryDelay: cfg.Rabbit.PublishRetryDelay,
		ReconnectAttempts: cfg.Rabbit.ReconnectAttempts,
		ReconnectDelay:    cfg.Rabbit.ReconnectDelay,
	}
}

// connectBroker opens a connection manager or exits the process.
func connectBroker(ctx context.Context, cfg *config.Config, role string) *rabbitMQ.RabbitMQ {
	broker := rabbitMQ.NewRabbitMQ(rabbitConfig(cfg),
		rabbitMQ.WithLogger(logrus.WithFields(logrus.Fields{"component": "rabbitmq", "role": role})))
	if err := broker.Connect(ctx); err != nil {
		logrus.Fatalf("Failed to connect to RabbitMQ: %s", err.Error())
	}
	return broker
}

// watchBroker turns a failed connection manager into a group error.
func watchBroker(ctx context.Context, broker *rabbitMQ.RabbitMQ) error {
	select {
	case <-ctx.Done():
		return nil
	case <-broker.Done():
		return broker.Err()
	}
}

// resultStores builds the result repository and, when enabled, the dead
// letter repository. The returned client is nil for the memory driver.
func resultStores(ctx context.Context, cfg *config.Config) (*redis.Client, database.ResultRepository, database.DeadLetterRepository) {
	if cfg.Results.Driver == "memory" {
		if cfg.DeadLetter.Enabled {
			logrus.Warn("Dead letter archive needs Redis; disabled for the memory result store")
		}
		return nil, database.NewMemoryRepository(cfg.Results.TTL, nil), nil
	}

	client, err := redisClient.Connect(ctx, &cfg.Redis)
	if err != nil {
		logrus.Fatalf("Failed to initialize Redis: %s", err.Error())
	}

	var deadLetters database.DeadLetterRepository
	if cfg.DeadLetter.Enabled {
		deadLetters = database.NewDeadLetterRepository(client, cfg.DeadLetter.Key)
	}
	return client, database.NewRedisRepository(client, cfg.Redis.KeyPrefix, cfg.Results.TTL), deadLetters
}

func NewServer(cfg *config.Config) {

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client, results, deadLetters := resultStores(ctx, cfg)
	if client != nil {
		defer client.Close()
	}

	files, err := storage.NewFileStorage(cfg.Blobs.Root)
	if err != nil {
		logrus.Fatalf("Failed to initialize blob storage: %s", err.Error())
	}

	producer := kafka.NewProducer(cfg.Kafka.Enabled, cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	// publishes and consumption use separate connections
	publisher := connectBroker(ctx, cfg, "publisher")
	defer publisher.Close()
	consumer := connectBroker(ctx, cfg, "consumer")
	defer consumer.Close()

	taskService := service.NewTaskService(publisher, results, cfg.Rabbit.DefaultQueue, cfg.Rabbit.ResultsQueue)
	blobService := service.NewBlobService(files)
	deadLetterService := service.NewDeadLetterService(deadLetters)
	collector := service.NewResultCollector(consumer, results, deadLetters, producer, cfg.Rabbit.ResultsQueue)
	cleanupWorker := worker.NewBlobCleanupWorker(files, cfg.Blobs.Retention, cfg.Blobs.SweepInterval)

	if cfg.Server.Mode == gin.ReleaseMode || cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := transport.InitRoutes(transport.Handlers{
		Task:       transport.NewTaskHandler(taskService),
		Blob:       transport.NewBlobHandler(blobService, cfg.Blobs.MaxUploadSize),
		DeadLetter: transport.NewDeadLetterHandler(deadLetterService),
		Health: transport.NewHealthHandler(
			service.NewHealthChecker("rabbitmq_publisher", func(context.Context) error { return publisher.HealthCheck() }),
			service.NewHealthChecker("rabbitmq_consumer", func(context.Context) error { return consumer.HealthCheck() }),
			service.NewHealthChecker("results", results.Ping),
		),
	}, cfg.Server.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	srv := NewHTTPServer(cfg, router)

	g.Go(func() error {
		logrus.WithField("port", cfg.Server.Port).Info("HTTP server started")
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Print("App Shutting Down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return collector.Run(gctx) })
	g.Go(func() error {
		cleanupWorker.Start(gctx)
		return nil
	})
	g.Go(func() error { return watchBroker(gctx, publisher) })
	g.Go(func() error { return watchBroker(gctx, consumer) })

	logrus.Print("App Started")

	if err := g.Wait(); err != nil {
		logrus.Fatalf("Gateway stopped: %s", err.Error())
	}
	logrus.Print("App Stopped")
}
