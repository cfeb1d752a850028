package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mievst/Cerebrum/internal/database"
	"github.com/mievst/Cerebrum/internal/entity"
	"github.com/mievst/Cerebrum/internal/pkg/kafka"
	"github.com/mievst/Cerebrum/internal/rabbitMQ"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	eventTimeout   = 2 * time.Second
	maxPendingEvents = 64
)

// ResultCollector drains the results queue into the result store.
type ResultCollector struct {
	consumer    rabbitMQ.Consumer
	repo        database.ResultRepository
	deadLetters database.DeadLetterRepository
	producer    kafka.Producer
	queue       string
	now         func() time.Time

	events   sync.WaitGroup
	eventSem chan struct{}
}

// NewResultCollector accepts a nil deadLetters repository (archiving off) and
// a nil producer (no result events).
func NewResultCollector(
	consumer rabbitMQ.Consumer,
	repo database.ResultRepository,
	deadLetters database.DeadLetterRepository,
	producer kafka.Producer,
	queue string,
) *ResultCollector {
	if producer == nil {
		producer = kafka.NewNoopProducer()
	}
	return &ResultCollector{
		consumer:    consumer,
		repo:        repo,
		deadLetters: deadLetters,
		producer:    producer,
		queue:       queue,
		now:         time.Now,
		eventSem:    make(chan struct{}, maxPendingEvents),
	}
}

// Run blocks until ctx is cancelled or the broker connection is lost for good.
func (c *ResultCollector) Run(ctx context.Context) error {
	logrus.WithField("queue", c.queue).Info("Result collector started")
	err := c.consumer.Consume(ctx, c.queue, c.Handle)
	c.Wait()
	if err != nil {
		return fmt.Errorf("result collector stopped: %w", err)
	}
	logrus.Info("Result collector stopped")
	return nil
}

// Handle stores one result message. A cancelled ctx sends the delivery back
// to the queue; any other failure rejects it.
func (c *ResultCollector) Handle(ctx context.Context, d amqp.Delivery) error {
	if err := ctx.Err(); err != nil {
		return rabbitMQ.Requeue(err)
	}

	taskID, err := c.store(ctx, d)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, entity.ErrPoisonMessage) {
			logrus.WithField("task_id", taskID).WithError(err).Warn("Result store interrupted, returning message to queue")
			return rabbitMQ.Requeue(err)
		}
		c.archive(context.WithoutCancel(ctx), d, taskID, err)
		return err
	}

	logrus.WithField("task_id", taskID).Info("Result stored")
	c.emit(ctx, taskID)
	return nil
}

// emit sends the result event in the background so Kafka never holds up the
// ack. Events are dropped once maxPendingEvents sends are pending.
func (c *ResultCollector) emit(ctx context.Context, taskID string) {
	select {
	case c.eventSem <- struct{}{}:
	default:
		logrus.WithField("task_id", taskID).Warn("Result event dropped, producer is backed up")
		return
	}

	event := entity.ResultEvent{TaskID: taskID, Queue: c.queue, StoredAt: c.now().Unix()}
	c.events.Add(1)
	go func() {
		defer c.events.Done()
		defer func() { <-c.eventSem }()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
		defer cancel()
		if err := c.producer.SendMessage(ctx, taskID, event); err != nil {
			logrus.WithFields(logrus.Fields{
				"task_id": taskID,
				"error":   err,
			}).Warn("Failed to publish result event")
		}
	}()
}

// Wait blocks until pending result events have been handed to the producer.
func (c *ResultCollector) Wait() {
	c.events.Wait()
}

func (c *ResultCollector) store(ctx context.Context, d amqp.Delivery) (string, error) {
	payload, err := entity.DecodePayload(d.Body)
	if err != nil {
		return correlationID(d), fmt.Errorf("%w: %v", entity.ErrPoisonMessage, err)
	}

	taskID := payload.TaskID()
	if taskID == "" {
		taskID = correlationID(d)
	}
	if taskID == "" {
		return "", fmt.Errorf("%w: %w", entity.ErrPoisonMessage, entity.ErrMissingCorrelation)
	}

	if err := c.repo.Save(ctx, taskID, json.RawMessage(d.Body)); err != nil {
		return taskID, fmt.Errorf("failed to store result: %w", err)
	}
	return taskID, nil
}

func (c *ResultCollector) archive(ctx context.Context, d amqp.Delivery, taskID string, cause error) {
	log := logrus.WithFields(logrus.Fields{
		"task_id":      taskID,
		"delivery_tag": d.DeliveryTag,
		"error":        cause,
	})
	if errors.Is(cause, entity.ErrPoisonMessage) {
		log.Warn("Discarding unprocessable result message")
	} else {
		log.Error("Discarding result message")
	}

	if c.deadLetters == nil {
		return
	}

	letter := &entity.DeadLetter{
		TaskID:   taskID,
		Queue:    c.queue,
		Body:     string(d.Body),
		Error:    cause.Error(),
		FailedAt: c.now(),
	}
	if err := c.deadLetters.Add(ctx, letter); err != nil {
		log.WithField("archive_error", err).Error("Failed to archive dead letter")
	}
}

func correlationID(d amqp.Delivery) string {
	if d.CorrelationId != "" {
		return d.CorrelationId
	}
	return d.MessageId
}
