package service

import (
	"context"
	"errors"
	"sync"

	"github.com/mievst/Cerebrum/internal/rabbitMQ"

	amqp "github.com/rabbitmq/amqp091-go"
)

type sentMessage struct {
	Queue         string
	Body          []byte
	CorrelationID string
}

// memoryBroker is an in-process stand-in for the connection manager that
// applies the same ack/nack/reject rules to handler results.
type memoryBroker struct {
	mu         sync.Mutex
	queues     map[string]chan amqp.Delivery
	sent       []sentMessage
	outcomes   map[string][]string
	publishErr error
	tag        uint64
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{
		queues:   make(map[string]chan amqp.Delivery),
		outcomes: make(map[string][]string),
	}
}

func (b *memoryBroker) queue(name string) chan amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan amqp.Delivery, 4096)
		b.queues[name] = q
	}
	return q
}

func (b *memoryBroker) failPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *memoryBroker) Publish(ctx context.Context, queue string, body []byte, correlationID string) error {
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	b.tag++
	tag := b.tag
	data := append([]byte(nil), body...)
	b.sent = append(b.sent, sentMessage{Queue: queue, Body: data, CorrelationID: correlationID})
	b.mu.Unlock()

	b.queue(queue) <- amqp.Delivery{
		RoutingKey:    queue,
		DeliveryTag:   tag,
		Body:          data,
		MessageId:     correlationID,
		CorrelationId: correlationID,
		ContentType:   "application/json",
	}
	return nil
}

// inject puts a raw delivery on a queue, bypassing Publish.
func (b *memoryBroker) inject(queue string, d amqp.Delivery) {
	d.RoutingKey = queue
	b.queue(queue) <- d
}

func (b *memoryBroker) Consume(ctx context.Context, queue string, handler rabbitMQ.Handler) error {
	q := b.queue(queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-q:
			err := handler(ctx, d)
			outcome := "ack"
			switch {
			case err == nil:
			case errors.Is(err, rabbitMQ.ErrRequeue):
				outcome = "requeue"
			default:
				outcome = "reject"
			}
			b.mu.Lock()
			b.outcomes[queue] = append(b.outcomes[queue], outcome)
			b.mu.Unlock()
			if outcome == "requeue" {
				q <- d
			}
		}
	}
}

func (b *memoryBroker) sentMessages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.sent...)
}

func (b *memoryBroker) outcomesFor(queue string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.outcomes[queue]...)
}

type recordingProducer struct {
	mu     sync.Mutex
	keys   []string
	events []interface{}
}

func (p *recordingProducer) SendMessage(ctx context.Context, key string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.events = append(p.events, message)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) sentKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}
