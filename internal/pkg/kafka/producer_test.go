package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/mievst/Cerebrum/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProducerIsNoop(t *testing.T) {
	p := NewProducer(false, "localhost:9092", "task-results")

	_, isNoop := p.(noopProducer)
	assert.True(t, isNoop)
	assert.NoError(t, p.SendMessage(context.Background(), "task-1", entity.ResultEvent{TaskID: "task-1"}))
	assert.NoError(t, p.Close())
}

func TestNoopProducerRejectsUnencodableMessages(t *testing.T) {
	p := NewNoopProducer()
	assert.Error(t, p.SendMessage(context.Background(), "k", make(chan int)))
}

func TestSendMessageDoesNotWaitForBrokers(t *testing.T) {
	writer := newWriter("127.0.0.1:1", "task-results")
	require.True(t, writer.Async)
	p := &kafkaProducer{writer: writer, topic: "task-results"}

	start := time.Now()
	err := p.SendMessage(context.Background(), "task-1", entity.ResultEvent{TaskID: "task-1"})
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
