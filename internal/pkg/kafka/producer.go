package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Producer publishes result events. Delivery is best effort.
type Producer interface {
	SendMessage(ctx context.Context, key string, message interface{}) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer returns a noop producer when enabled is false or the brokers
// cannot be reached.
func NewProducer(enabled bool, brokers, topic string) Producer {
	if !enabled {
		logrus.Info("Kafka result events disabled")
		return NewNoopProducer()
	}

	writer := newWriter(brokers, topic)

	// Проверяем подключение и создаем топик
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", brokers)
	if err != nil {
		logrus.WithError(err).WithField("brokers", brokers).Warn("Kafka connection failed, using noop producer")
		return NewNoopProducer()
	}
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		logrus.WithError(err).WithField("topic", topic).Debug("Could not create topic (might already exist)")
	}

	logrus.WithFields(logrus.Fields{"brokers": brokers, "topic": topic}).Info("Connected to Kafka")
	return &kafkaProducer{writer: writer, topic: topic}
}

// SendMessage enqueues the message; delivery failures are reported by the
// writer's completion callback.
func (p *kafkaProducer) SendMessage(ctx context.Context, key string, message interface{}) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: messageBytes,
		Time:  time.Now(),
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{"topic": p.topic, "key": key}).Debug("Message queued for Kafka")
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

// newWriter builds an async writer so SendMessage never waits on the brokers.
func newWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logrus.WithError(err).WithField("count", len(messages)).Warn("Failed to deliver result events")
			}
		},
	}
}

type noopProducer struct{}

// NewNoopProducer returns a Producer that drops every message.
func NewNoopProducer() Producer {
	return noopProducer{}
}

func (noopProducer) SendMessage(ctx context.Context, key string, message interface{}) error {
	if _, err := json.Marshal(message); err != nil {
		return err
	}
	return nil
}

func (noopProducer) Close() error {
	return nil
}
