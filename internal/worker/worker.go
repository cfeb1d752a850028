package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mievst/Cerebrum/internal/entity"
	"github.com/mievst/Cerebrum/internal/rabbitMQ"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Runner binds a Processor to one task queue and answers on the results queue.
type Runner struct {
	consumer     rabbitMQ.Consumer
	publisher    rabbitMQ.Publisher
	processor    Processor
	queue        string
	resultsQueue string
}

func NewRunner(consumer rabbitMQ.Consumer, publisher rabbitMQ.Publisher, processor Processor, queue, resultsQueue string) *Runner {
	return &Runner{
		consumer:     consumer,
		publisher:    publisher,
		processor:    processor,
		queue:        queue,
		resultsQueue: resultsQueue,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	logrus.WithField("queue", r.queue).Info("Worker started")
	if err := r.consumer.Consume(ctx, r.queue, r.Handle); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	logrus.WithField("queue", r.queue).Info("Worker stopped")
	return nil
}

// Handle processes one task. A processor failure is still answered, with
// an "error" field; only a failed result publish leaves the task queued.
func (r *Runner) Handle(ctx context.Context, d amqp.Delivery) error {
	task, err := entity.DecodePayload(d.Body)
	if err != nil {
		return err
	}

	taskID := task.TaskID()
	if taskID == "" {
		taskID = d.CorrelationId
	}
	if taskID == "" {
		taskID = d.MessageId
	}
	if taskID == "" {
		return entity.ErrMissingCorrelation
	}

	log := logrus.WithFields(logrus.Fields{
		"task_id": taskID,
		"queue":   r.queue,
	})
	log.Debug("Received task")

	result, err := r.processor.Process(ctx, task)
	if err != nil {
		log.WithError(err).Warn("Task processing failed")
		result = entity.Payload{entity.FieldError: err.Error()}
	}
	if result == nil {
		result = entity.Payload{}
	}
	result[entity.FieldTaskID] = taskID

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if err := r.publisher.Publish(ctx, r.resultsQueue, body, taskID); err != nil {
		log.WithError(err).Error("Failed to publish result")
		return rabbitMQ.Requeue(err)
	}

	log.Info("Task processed")
	return nil
}
