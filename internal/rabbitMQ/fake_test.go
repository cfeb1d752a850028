package rabbitMQ

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publishedMessage struct {
	Queue string
	Msg   amqp.Publishing
}

// fakeBroker stands in for a RabbitMQ server. Failures are scripted by
// counters that are consumed one per call.
type fakeBroker struct {
	mu sync.Mutex

	dialFailures    int
	publishFailures int

	dials     int
	channels  []*fakeChannel
	declared  []string
	published []publishedMessage
	prefetch  []int

	inFlight    int32
	maxInFlight int32
}

func (b *fakeBroker) dial(url string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.dialFailures > 0 {
		b.dialFailures--
		return nil, errors.New("dial tcp: connection refused")
	}
	return &fakeConnection{broker: b}, nil
}

func (b *fakeBroker) setPublishFailures(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishFailures = n
}

func (b *fakeBroker) setDialFailures(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialFailures = n
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) publishedMessages() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMessage(nil), b.published...)
}

func (b *fakeBroker) declaredQueues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.declared...)
}

// consumingChannel returns the newest channel with an active consumer.
func (b *fakeBroker) consumingChannel() *fakeChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.channels) - 1; i >= 0; i-- {
		ch := b.channels[i]
		if ch.consuming() {
			return ch
		}
	}
	return nil
}

type fakeConnection struct {
	broker *fakeBroker
	closed atomic.Bool
}

func (c *fakeConnection) Channel() (Channel, error) {
	if c.closed.Load() {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{broker: c.broker, deliveries: make(chan amqp.Delivery, 16)}
	c.broker.mu.Lock()
	c.broker.channels = append(c.broker.channels, ch)
	c.broker.mu.Unlock()
	return ch, nil
}

func (c *fakeConnection) IsClosed() bool { return c.closed.Load() }

func (c *fakeConnection) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeChannel struct {
	broker *fakeBroker

	mu         sync.Mutex
	closed     bool
	consumer   bool
	deliveries chan amqp.Delivery
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	ch.broker.mu.Lock()
	ch.broker.declared = append(ch.broker.declared, name)
	ch.broker.mu.Unlock()
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	n := atomic.AddInt32(&ch.broker.inFlight, 1)
	defer atomic.AddInt32(&ch.broker.inFlight, -1)

	b := ch.broker
	b.mu.Lock()
	if n > b.maxInFlight {
		b.maxInFlight = n
	}
	if b.publishFailures > 0 {
		b.publishFailures--
		b.mu.Unlock()
		ch.Close()
		return amqp.ErrClosed
	}
	b.published = append(b.published, publishedMessage{Queue: key, Msg: msg})
	b.mu.Unlock()
	return nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.mu.Lock()
	ch.broker.prefetch = append(ch.broker.prefetch, prefetchCount)
	ch.broker.mu.Unlock()
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if autoAck {
		return nil, errors.New("auto-ack is not allowed")
	}
	ch.consumer = true
	return ch.deliveries, nil
}

func (ch *fakeChannel) consuming() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.consumer && !ch.closed
}

func (ch *fakeChannel) deliver(d amqp.Delivery) {
	ch.deliveries <- d
}

func (ch *fakeChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.closed {
		ch.closed = true
		close(ch.deliveries)
	}
	return nil
}

type ackRecord struct {
	Tag     uint64
	Kind    string // ack | nack | reject
	Requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.record(ackRecord{Tag: tag, Kind: "ack"})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.record(ackRecord{Tag: tag, Kind: "nack", Requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.record(ackRecord{Tag: tag, Kind: "reject", Requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) record(r ackRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

func (a *fakeAcknowledger) all() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}
