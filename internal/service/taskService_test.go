package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mievst/Cerebrum/internal/database"
	"github.com/mievst/Cerebrum/internal/entity"
	"github.com/mievst/Cerebrum/internal/rabbitMQ"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTaskService(broker *memoryBroker, repo database.ResultRepository) TaskService {
	if repo == nil {
		repo = database.NewMemoryRepository(time.Hour, nil)
	}
	return NewTaskService(broker, repo, "default_queue", "results")
}

func decodeSent(t *testing.T, msg sentMessage) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	return body
}

func TestSubmitTaskRoutesToDefaultQueue(t *testing.T) {
	broker := newMemoryBroker()
	svc := newTaskService(broker, nil)

	payload := entity.Payload{"value": float64(5)}
	taskID, err := svc.SubmitTask(context.Background(), payload)
	require.NoError(t, err)

	_, err = uuid.Parse(taskID)
	assert.NoError(t, err, "task id is a UUID")
	assert.NotContains(t, payload, entity.FieldTaskID, "caller payload is not mutated")

	sent := broker.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "default_queue", sent[0].Queue)
	assert.Equal(t, taskID, sent[0].CorrelationID)

	want := map[string]interface{}{
		"value":   float64(5),
		"task_id": taskID,
		"queue":   "default_queue",
	}
	if diff := cmp.Diff(want, decodeSent(t, sent[0])); diff != "" {
		t.Errorf("published task mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitTaskKeepsLargeIntegersExact(t *testing.T) {
	broker := newMemoryBroker()
	svc := newTaskService(broker, nil)

	payload, err := entity.DecodePayload([]byte(`{"id":9007199254740993,"amount":12345678901234567890}`))
	require.NoError(t, err)
	_, err = svc.SubmitTask(context.Background(), payload)
	require.NoError(t, err)

	sent := broker.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, string(sent[0].Body), `"id":9007199254740993`)
	assert.Contains(t, string(sent[0].Body), `"amount":12345678901234567890`)
}

func TestSubmitTaskRoutesToRequestedQueue(t *testing.T) {
	tests := []struct {
		name      string
		queue     interface{}
		wantQueue string
	}{
		{name: "explicit queue", queue: "math_queue", wantQueue: "math_queue"},
		{name: "empty queue", queue: "", wantQueue: "default_queue"},
		{name: "null queue", queue: nil, wantQueue: "default_queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := newMemoryBroker()
			svc := newTaskService(broker, nil)

			_, err := svc.SubmitTask(context.Background(), entity.Payload{"queue": tt.queue, "text": "hi"})
			require.NoError(t, err)

			sent := broker.sentMessages()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.wantQueue, sent[0].Queue)
			assert.Equal(t, tt.wantQueue, decodeSent(t, sent[0])["queue"])
		})
	}
}

func TestSubmitTaskOverridesClientTaskID(t *testing.T) {
	broker := newMemoryBroker()
	svc := newTaskService(broker, nil)

	taskID, err := svc.SubmitTask(context.Background(), entity.Payload{"task_id": "forged"})
	require.NoError(t, err)
	assert.NotEqual(t, "forged", taskID)
	assert.Equal(t, taskID, decodeSent(t, broker.sentMessages()[0])["task_id"])
}

func TestSubmitTaskRejectsInvalidQueue(t *testing.T) {
	tests := []struct {
		name  string
		queue interface{}
	}{
		{name: "non string", queue: 42},
		{name: "results queue", queue: "results"},
		{name: "too long", queue: strings.Repeat("q", 256)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := newMemoryBroker()
			svc := newTaskService(broker, nil)

			_, err := svc.SubmitTask(context.Background(), entity.Payload{"queue": tt.queue})
			assert.ErrorIs(t, err, entity.ErrInvalidTask)
			assert.Empty(t, broker.sentMessages())
		})
	}

	_, err := newTaskService(newMemoryBroker(), nil).SubmitTask(context.Background(), nil)
	assert.ErrorIs(t, err, entity.ErrInvalidTask)
}

func TestSubmitTaskPropagatesPublishFailure(t *testing.T) {
	broker := newMemoryBroker()
	broker.failPublishes(&rabbitMQ.PublishError{Queue: "default_queue", Attempts: 3, Err: errors.New("channel closed")})
	svc := newTaskService(broker, nil)

	taskID, err := svc.SubmitTask(context.Background(), entity.Payload{"value": 1})
	require.Error(t, err)
	assert.Empty(t, taskID)
	assert.ErrorIs(t, err, entity.ErrPublishFailed)
}

func TestConcurrentSubmissionsGetDistinctIDs(t *testing.T) {
	const n = 1000

	broker := newMemoryBroker()
	svc := newTaskService(broker, nil)

	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.SubmitTask(context.Background(), entity.Payload{"value": i})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, id := range ids {
		require.NotEmpty(t, id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Len(t, broker.sentMessages(), n)
}

func TestGetResult(t *testing.T) {
	repo := database.NewMemoryRepository(time.Hour, nil)
	svc := newTaskService(newMemoryBroker(), repo)
	ctx := context.Background()

	_, err := svc.GetResult(ctx, "unknown")
	assert.ErrorIs(t, err, entity.ErrResultNotFound)

	_, err = svc.GetResult(ctx, "")
	assert.ErrorIs(t, err, entity.ErrResultNotFound)

	require.NoError(t, repo.Save(ctx, "task-1", json.RawMessage(`{"value":10,"task_id":"task-1"}`)))
	got, err := svc.GetResult(ctx, "task-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":10,"task_id":"task-1"}`, string(got))
}
