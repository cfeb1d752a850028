package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mievst/Cerebrum/internal/database"
	"github.com/mievst/Cerebrum/internal/entity"
	"github.com/mievst/Cerebrum/internal/rabbitMQ"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AMQP caps queue names at 255 bytes.
const maxQueueNameLength = 255

type taskService struct {
	publisher    rabbitMQ.Publisher
	repo         database.ResultRepository
	defaultQueue string
	resultsQueue string
}

func NewTaskService(publisher rabbitMQ.Publisher, repo database.ResultRepository, defaultQueue, resultsQueue string) TaskService {
	return &taskService{
		publisher:    publisher,
		repo:         repo,
		defaultQueue: defaultQueue,
		resultsQueue: resultsQueue,
	}
}

func (s *taskService) SubmitTask(ctx context.Context, payload entity.Payload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("%w: payload must be a JSON object", entity.ErrInvalidTask)
	}

	queue, err := s.resolveQueue(payload)
	if err != nil {
		return "", err
	}

	taskID := uuid.New().String()

	// the caller's map is left untouched
	task := make(entity.Payload, len(payload)+2)
	for k, v := range payload {
		task[k] = v
	}
	task[entity.FieldTaskID] = taskID
	task[entity.FieldQueue] = queue

	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrInvalidTask, err)
	}

	if err := s.publisher.Publish(ctx, queue, body, taskID); err != nil {
		logrus.WithFields(logrus.Fields{
			"task_id": taskID,
			"queue":   queue,
			"error":   err,
		}).Error("Task was not queued")
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"task_id": taskID,
		"queue":   queue,
	}).Info("Task queued")
	return taskID, nil
}

func (s *taskService) resolveQueue(payload entity.Payload) (string, error) {
	queue, ok := payload.Queue()
	if !ok {
		return "", fmt.Errorf("%w: queue must be a string", entity.ErrInvalidTask)
	}

	switch {
	case queue == "":
		return s.defaultQueue, nil
	case len(queue) > maxQueueNameLength:
		return "", fmt.Errorf("%w: queue name longer than %d bytes", entity.ErrInvalidTask, maxQueueNameLength)
	case queue == s.resultsQueue:
		return "", fmt.Errorf("%w: tasks cannot be sent to the %q queue", entity.ErrInvalidTask, s.resultsQueue)
	}
	return queue, nil
}

func (s *taskService) GetResult(ctx context.Context, taskID string) (json.RawMessage, error) {
	if taskID == "" {
		return nil, entity.ErrResultNotFound
	}
	return s.repo.Get(ctx, taskID)
}
