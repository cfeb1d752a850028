package rabbitMQ

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mievst/Cerebrum/internal/entity"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var (
	// ErrRequeue asks the consumer loop to nack a delivery with requeue.
	ErrRequeue = errors.New("requeue delivery")
	ErrClosed  = errors.New("rabbitmq manager closed")

	errChannelClosed = errors.New("rabbitmq channel is not open")
)

// Requeue marks a handler error as transient.
func Requeue(err error) error {
	return fmt.Errorf("%w: %w", ErrRequeue, err)
}

// Publisher is the part of the manager the gateway and workers depend on.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte, correlationID string) error
}

// Consumer is the part of the manager the result collector and workers depend on.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler Handler) error
}

// Handler processes one delivery. nil acks it, an error wrapping ErrRequeue
// nacks it back onto the queue and any other error rejects it for good.
type Handler func(ctx context.Context, d amqp.Delivery) error

type Config struct {
	URL               string
	Prefetch          int
	PublishAttempts   int
	PublishRetryDelay time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// PublishError is returned once every publish attempt has failed.
type PublishError struct {
	Queue    string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q failed after %d attempts: %v", e.Queue, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{entity.ErrPublishFailed, e.Err}
}

// RabbitMQ owns one connection and one channel. Publishes and reconnects are
// serialized by mu; gen is bumped on every successful reconnect so that
// callers holding a stale channel do not tear down a fresh one.
type RabbitMQ struct {
	config Config
	dial   Dialer
	log    *logrus.Entry

	mu       sync.Mutex
	conn     Connection
	channel  Channel
	gen      uint64
	declared map[string]struct{}
	closed   bool

	done     chan struct{}
	failOnce sync.Once
	err      error
}

type Option func(*RabbitMQ)

func WithDialer(dial Dialer) Option {
	return func(r *RabbitMQ) { r.dial = dial }
}

func WithLogger(entry *logrus.Entry) Option {
	return func(r *RabbitMQ) { r.log = entry }
}

func NewRabbitMQ(config Config, opts ...Option) *RabbitMQ {
	if config.Prefetch <= 0 {
		config.Prefetch = 1
	}
	if config.PublishAttempts <= 0 {
		config.PublishAttempts = 3
	}
	if config.ReconnectAttempts <= 0 {
		config.ReconnectAttempts = 5
	}

	r := &RabbitMQ{
		config:   config,
		dial:     DialAMQP,
		log:      logrus.WithField("component", "rabbitmq"),
		declared: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect opens the connection, retrying up to ReconnectAttempts times.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnectLocked(ctx)
}

// Done is closed when the manager gave up reconnecting. The manager is
// unusable afterwards and Err reports why.
func (r *RabbitMQ) Done() <-chan struct{} {
	return r.done
}

func (r *RabbitMQ) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *RabbitMQ) fail(err error) {
	r.failOnce.Do(func() {
		r.err = err
		close(r.done)
	})
}

// failureLocked must be called with mu held.
func (r *RabbitMQ) failureLocked() error {
	if r.closed {
		return ErrClosed
	}
	return r.Err()
}

func (r *RabbitMQ) channelOpenLocked() bool {
	return r.channel != nil && !r.channel.IsClosed()
}

func (r *RabbitMQ) reconnectLocked(ctx context.Context) error {
	if err := r.failureLocked(); err != nil {
		return err
	}

	r.closeLocked()

	var lastErr error
	for attempt := 1; attempt <= r.config.ReconnectAttempts; attempt++ {
		r.log.WithField("attempt", attempt).Info("Connecting to RabbitMQ")

		conn, channel, err := r.open()
		if err == nil {
			r.conn = conn
			r.channel = channel
			r.gen++
			r.declared = make(map[string]struct{})
			r.log.WithField("generation", r.gen).Info("Connected to RabbitMQ")
			return nil
		}

		lastErr = err
		r.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Failed to connect to RabbitMQ")

		if attempt == r.config.ReconnectAttempts {
			break
		}
		if err := sleep(ctx, r.config.ReconnectDelay); err != nil {
			return err
		}
	}

	err := fmt.Errorf("%w: gave up after %d connection attempts: %v",
		entity.ErrBrokerUnavailable, r.config.ReconnectAttempts, lastErr)
	r.fail(err)
	r.log.WithError(err).Error("RabbitMQ connection manager failed")
	return err
}

func (r *RabbitMQ) open() (Connection, Channel, error) {
	conn, err := r.dial(r.config.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return conn, channel, nil
}

// reconnect replaces the channel unless somebody already did it since
// staleGen was observed.
func (r *RabbitMQ) reconnect(ctx context.Context, staleGen uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen != staleGen && r.channelOpenLocked() {
		return r.failureLocked()
	}
	return r.reconnectLocked(ctx)
}

func (r *RabbitMQ) declareLocked(queue string) error {
	if _, ok := r.declared[queue]; ok {
		return nil
	}

	_, err := r.channel.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}

	r.declared[queue] = struct{}{}
	return nil
}

// Publish sends a persistent message to queue through the default exchange.
// On failure it reconnects and retries up to PublishAttempts times.
func (r *RabbitMQ) Publish(ctx context.Context, queue string, body []byte, correlationID string) error {
	var lastErr error
	attempt := 0

	for attempt < r.config.PublishAttempts {
		attempt++

		gen, err := r.publishOnce(ctx, queue, body, correlationID)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, entity.ErrBrokerUnavailable) || errors.Is(err, ErrClosed) || ctx.Err() != nil {
			break
		}

		r.log.WithFields(logrus.Fields{
			"queue":   queue,
			"task_id": correlationID,
			"attempt": attempt,
			"error":   err,
		}).Warn("RabbitMQ publish failed")

		if attempt == r.config.PublishAttempts {
			break
		}
		if err := r.reconnect(ctx, gen); err != nil {
			lastErr = err
			break
		}
		if err := sleep(ctx, r.config.PublishRetryDelay); err != nil {
			lastErr = err
			break
		}
	}

	return &PublishError{Queue: queue, Attempts: attempt, Err: lastErr}
}

func (r *RabbitMQ) publishOnce(ctx context.Context, queue string, body []byte, correlationID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failureLocked(); err != nil {
		return r.gen, err
	}
	if !r.channelOpenLocked() {
		return r.gen, errChannelClosed
	}
	if err := r.declareLocked(queue); err != nil {
		return r.gen, err
	}

	err := r.channel.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
			MessageId:     correlationID,
			CorrelationId: correlationID,
		},
	)
	if err != nil {
		return r.gen, fmt.Errorf("failed to publish message: %w", err)
	}
	return r.gen, nil
}

// Consume delivers messages from queue to handler one at a time until ctx
// is cancelled. A lost delivery stream is followed by a pause and a
// reconnect; Consume only returns an error once the manager has failed.
func (r *RabbitMQ) Consume(ctx context.Context, queue string, handler Handler) error {
	log := r.log.WithField("queue", queue)

	for {
		deliveries, gen, err := r.subscribe(queue)
		if err != nil {
			if errors.Is(err, entity.ErrBrokerUnavailable) || errors.Is(err, ErrClosed) {
				return err
			}
			log.WithError(err).Warn("Failed to start consuming")
		} else {
			log.Info("Consuming messages")
			if stop := r.handleMessages(ctx, deliveries, handler); stop {
				if ctx.Err() != nil {
					return nil
				}
				return r.Err()
			}
			log.Warn("RabbitMQ delivery stream lost")
		}

		if gen > 0 {
			if err := sleep(ctx, r.config.ReconnectDelay); err != nil {
				return nil
			}
		}
		if err := r.reconnect(ctx, gen); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (r *RabbitMQ) subscribe(queue string) (<-chan amqp.Delivery, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failureLocked(); err != nil {
		return nil, r.gen, err
	}
	if !r.channelOpenLocked() {
		return nil, r.gen, errChannelClosed
	}
	if err := r.declareLocked(queue); err != nil {
		return nil, r.gen, err
	}

	// Настраиваем QoS
	err := r.channel.Qos(
		r.config.Prefetch, // prefetch count
		0,                 // prefetch size
		false,             // global
	)
	if err != nil {
		return nil, r.gen, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := r.channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, r.gen, fmt.Errorf("failed to consume messages: %w", err)
	}
	return msgs, r.gen, nil
}

// handleMessages reports stop=true when consumption must end for good.
func (r *RabbitMQ) handleMessages(ctx context.Context, msgs <-chan amqp.Delivery, handler Handler) (stop bool) {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-r.done:
			return true
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			if ctx.Err() != nil {
				// shutting down: hand the delivery back instead of running it
				if err := msg.Nack(false, true); err != nil {
					r.log.WithError(err).Error("Failed to return message to queue")
				}
				return true
			}
			r.dispatch(ctx, msg, handler)
		}
	}
}

func (r *RabbitMQ) dispatch(ctx context.Context, msg amqp.Delivery, handler Handler) {
	err := r.invoke(ctx, msg, handler)

	log := r.log.WithFields(logrus.Fields{
		"queue":        msg.RoutingKey,
		"delivery_tag": msg.DeliveryTag,
	})

	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack(false)
	case errors.Is(err, ErrRequeue):
		log.WithError(err).Warn("Message will be requeued")
		ackErr = msg.Nack(false, true)
	default:
		log.WithError(err).Warn("Message rejected without requeue")
		ackErr = msg.Reject(false)
	}
	if ackErr != nil {
		log.WithError(ackErr).Error("Failed to acknowledge message")
	}
}

func (r *RabbitMQ) invoke(ctx context.Context, msg amqp.Delivery, handler Handler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("handler panic: %v\n%s", rec, debug.Stack())
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, msg)
}

func (r *RabbitMQ) closeLocked() []error {
	var errs []error

	if r.channel != nil {
		if !r.channel.IsClosed() {
			if err := r.channel.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		r.channel = nil
	}

	if r.conn != nil {
		if !r.conn.IsClosed() {
			if err := r.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		r.conn = nil
	}

	return errs
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if errs := r.closeLocked(); len(errs) > 0 {
		return fmt.Errorf("errors while closing RabbitMQ: %v", errs)
	}
	return nil
}

// HealthCheck проверяет соединение с RabbitMQ
func (r *RabbitMQ) HealthCheck() error {
	if err := r.Err(); err != nil {
		return err
	}
	if !r.mu.TryLock() {
		return errors.New("RabbitMQ connection is being re-established")
	}
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.conn == nil || r.conn.IsClosed() {
		return fmt.Errorf("RabbitMQ connection is closed")
	}

	testChannel, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("RabbitMQ health check failed: %w", err)
	}
	testChannel.Close()

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
