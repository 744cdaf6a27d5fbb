// Package mq provides a RabbitMQ client with automatic reconnection, used to
// carry ingestion rows between the generator and the server.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/ipdr/pkg/metrics"
)

// ContentTypeProtobuf marks message bodies encoded as a protobuf Struct.
const ContentTypeProtobuf = "application/x-protobuf"

const (
	reconnectDelay = 5 * time.Second
	reInitDelay    = 2 * time.Second

	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2
	maxRetryAttempts  = 5
)

var (
	// ErrNotConnected is returned while the client has no usable channel.
	ErrNotConnected = errors.New("not connected to a server")
	// ErrAlreadyClosed is returned by a second Close.
	ErrAlreadyClosed = errors.New("already closed")
	// ErrShutdown is returned when Close interrupts a publish.
	ErrShutdown = errors.New("client is shutting down")
	// ErrMaxRetriesExceeded is returned when a confirmed publish gives up.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// Config configures a Client.
type Config struct {
	URL    string
	Queue  string
	Logger *slog.Logger
	// Prefetch bounds unacknowledged deliveries per consumer (default 1).
	Prefetch int
	// Metrics is optional.
	Metrics *metrics.MQMetrics
}

// Client is a RabbitMQ client bound to a single durable queue. It reconnects
// in the background and re-declares the queue after channel failures.
type Client struct {
	m               sync.Mutex
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	closeOnce       sync.Once
	ready           chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	prefetch        int
	isReady         bool
	metrics         *metrics.MQMetrics
}

// New creates a client and starts connecting to cfg.URL in the background.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.URL == "" {
		return nil, errors.New("amqp url cannot be empty")
	}
	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	client := &Client{
		logger:    cfg.Logger.With("queue", cfg.Queue),
		queueName: cfg.Queue,
		prefetch:  cfg.Prefetch,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
	}
	go client.handleReconnect(cfg.URL)
	return client, nil
}

// Queue returns the name of the queue the client is bound to.
func (client *Client) Queue() string {
	return client.queueName
}

// WaitReady blocks until the client holds a usable channel, the client closes
// or ctx ends. It blocks again while a dropped connection is re-established.
func (client *Client) WaitReady(ctx context.Context) error {
	client.m.Lock()
	ready := client.ready
	client.m.Unlock()

	select {
	case <-ready:
		return nil
	case <-client.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.WithLabelValues(client.queueName).Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if client.metrics != nil {
			client.metrics.ConnectionStatus.WithLabelValues(client.queueName).Set(0)
		}
		return nil, err
	}

	client.m.Lock()
	client.connection = conn
	client.notifyConnClose = make(chan *amqp.Error, 1)
	conn.NotifyClose(client.notifyConnClose)
	client.m.Unlock()

	client.logger.Info("connected")
	if client.metrics != nil {
		client.metrics.ConnectionStatus.WithLabelValues(client.queueName).Set(1)
	}

	return conn, nil
}

// handleReInit returns true when the client is closing and false when the
// connection dropped and must be re-dialled.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init")
		}
	}
}

func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	_, err = ch.QueueDeclare(
		client.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	client.m.Lock()
	client.channel = ch
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	ch.NotifyClose(client.notifyChanClose)
	ch.NotifyPublish(client.notifyConfirm)
	client.m.Unlock()

	client.setReady(true)
	client.logger.Info("client init done")

	return nil
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	defer client.m.Unlock()

	client.isReady = ready
	select {
	case <-client.ready:
		// Re-arm so WaitReady blocks until the next successful init.
		if !ready {
			client.ready = make(chan struct{})
		}
	default:
		if ready {
			close(client.ready)
		}
	}
}

func (client *Client) snapshot() (*amqp.Channel, chan amqp.Confirmation, bool) {
	client.m.Lock()
	defer client.m.Unlock()
	return client.channel, client.notifyConfirm, client.isReady
}

// Publish sends body to the queue and waits for the broker confirmation.
// While disconnected it retries with exponential backoff, giving up after
// maxRetryAttempts with ErrMaxRetriesExceeded.
func (client *Client) Publish(ctx context.Context, body []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PublishDuration.WithLabelValues(client.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded", "attempts", attempt)
			client.countFailure("max_retries_exceeded")
			return ErrMaxRetriesExceeded
		}

		acked, err := client.publishOnce(ctx, body)
		switch {
		case err == nil && acked:
			if client.metrics != nil {
				client.metrics.MessagesPublished.WithLabelValues(client.queueName).Inc()
			}
			client.logger.Debug("publish confirmed", "attempt", attempt)
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			client.countFailure("context_canceled")
			return err
		case err != nil:
			client.logger.Warn("publish failed, retrying", "error", err, "backoff", backoff)
		default:
			client.logger.Warn("publish not acknowledged, retrying", "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			client.countFailure("context_canceled")
			return ctx.Err()
		case <-client.done:
			return ErrShutdown
		case <-time.After(backoff):
			backoff = nextBackoff(backoff)
		}
	}
}

func (client *Client) publishOnce(ctx context.Context, body []byte) (bool, error) {
	ch, confirms, ready := client.snapshot()
	if !ready {
		return false, ErrNotConnected
	}

	if err := client.publish(ctx, ch, body); err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case confirm, ok := <-confirms:
		if !ok {
			return false, ErrNotConnected
		}
		return confirm.Ack, nil
	}
}

// PublishUnconfirmed sends body without waiting for a broker confirmation.
func (client *Client) PublishUnconfirmed(ctx context.Context, body []byte) error {
	ch, _, ready := client.snapshot()
	if !ready {
		return ErrNotConnected
	}
	return client.publish(ctx, ch, body)
}

func (client *Client) publish(ctx context.Context, ch *amqp.Channel, body []byte) error {
	return ch.PublishWithContext(
		ctx,
		"", // default exchange
		client.queueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  ContentTypeProtobuf,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// Consume starts delivering queue messages. Every delivery must be acked or
// nacked by the caller.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	ch, _, ready := client.snapshot()
	if !ready {
		return nil, ErrNotConnected
	}

	if err := ch.Qos(client.prefetch, 0, false); err != nil {
		return nil, err
	}

	return ch.Consume(
		client.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}

// Close stops reconnecting and shuts down the channel and connection.
func (client *Client) Close() error {
	closed := false
	client.closeOnce.Do(func() {
		close(client.done)
		closed = true
	})
	if !closed {
		return ErrAlreadyClosed
	}

	client.m.Lock()
	defer client.m.Unlock()

	if client.metrics != nil {
		client.metrics.ConnectionStatus.WithLabelValues(client.queueName).Set(0)
	}

	if !client.isReady {
		return nil
	}
	client.isReady = false

	var errs []error
	if err := client.channel.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := client.connection.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (client *Client) countFailure(reason string) {
	if client.metrics != nil {
		client.metrics.PublishFailures.WithLabelValues(client.queueName, reason).Inc()
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * backoffMultiplier
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
