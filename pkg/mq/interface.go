package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends encoded rows to a queue.
type Publisher interface {
	// Publish sends a message and blocks until the broker confirms it.
	Publish(ctx context.Context, body []byte) error
	// PublishUnconfirmed sends a message without waiting for a confirmation.
	PublishUnconfirmed(ctx context.Context, body []byte) error
}

// Consumer receives deliveries from a queue.
type Consumer interface {
	// Consume returns the delivery channel. Deliveries must be acked or nacked.
	Consume() (<-chan amqp.Delivery, error)
}

// ClientInterface is the full surface of a queue client.
type ClientInterface interface {
	Publisher
	Consumer
	Close() error
}

var _ ClientInterface = (*Client)(nil)
