package rabbitMQ

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by the manager.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	IsClosed() bool
	Close() error
}

type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

// DialAMQP is the production Dialer.
func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{Connection: conn}, nil
}

func (c *amqpConnection) Channel() (Channel, error) {
	channel, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return channel, nil
}
