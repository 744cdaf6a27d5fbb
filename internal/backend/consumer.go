package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/pkg/metrics"
	"procodus.dev/ipdr/pkg/mq"
)

const (
	// readyTimeout bounds the wait for the queue connection in Start.
	readyTimeout = 30 * time.Second
	// defaultResubscribeDelay spaces Consume attempts after the delivery
	// channel closes.
	defaultResubscribeDelay = time.Second
)

// RowConsumer ingests one row per queue message through the pipeline.
type RowConsumer struct {
	logger   *slog.Logger
	pipeline *ipdr.Pipeline
	client   mq.ClientInterface
	kind     ipdr.Kind
	queue    string
	metrics  *metrics.IngestMetrics
	delay    time.Duration
	done     chan struct{}
	stopping chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// RowConsumerConfig holds the configuration for a RowConsumer.
type RowConsumerConfig struct {
	Logger   *slog.Logger
	Pipeline *ipdr.Pipeline
	Client   mq.ClientInterface
	Kind     ipdr.Kind
	// Queue labels logs and metrics.
	Queue   string
	Metrics *metrics.IngestMetrics // Optional
	// ResubscribeDelay defaults to one second.
	ResubscribeDelay time.Duration
}

// NewRowConsumer creates a new RowConsumer instance.
func NewRowConsumer(cfg *RowConsumerConfig) (*RowConsumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if _, ok := ipdr.ParseKind(string(cfg.Kind)); !ok {
		return nil, fmt.Errorf("unknown row kind %q", cfg.Kind)
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	delay := cfg.ResubscribeDelay
	if delay <= 0 {
		delay = defaultResubscribeDelay
	}

	return &RowConsumer{
		logger:   cfg.Logger.With("queue", cfg.Queue, "kind", cfg.Kind),
		pipeline: cfg.Pipeline,
		client:   cfg.Client,
		kind:     cfg.Kind,
		queue:    cfg.Queue,
		metrics:  cfg.Metrics,
		delay:    delay,
		done:     make(chan struct{}),
		stopping: make(chan struct{}),
	}, nil
}

// Start begins consuming messages. When the delivery channel closes, as it
// does after the client reconnects, the consumer subscribes again. Processing
// stops when ctx is cancelled or Stop is called.
func (c *RowConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err := c.waitReady(readyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("mq client not ready: %w", err)
	}

	deliveries, err := c.client.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started, waiting for messages")

	c.started.Store(true)
	go c.processMessages(ctx, deliveries)

	return nil
}

func (c *RowConsumer) waitReady(ctx context.Context) error {
	if w, ok := c.client.(interface{ WaitReady(context.Context) error }); ok {
		return w.WaitReady(ctx)
	}
	return nil
}

// Done is closed once message processing has ended.
func (c *RowConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *RowConsumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)

	if c.metrics != nil {
		c.metrics.ActiveConsumers.Inc()
		defer c.metrics.ActiveConsumers.Dec()
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed, resubscribing")
				if deliveries, ok = c.resubscribe(ctx); !ok {
					return
				}
				continue
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// resubscribe waits for the client to become ready and calls Consume again
// until it succeeds. It reports false once ctx ends or Stop was called.
func (c *RowConsumer) resubscribe(ctx context.Context) (<-chan amqp.Delivery, bool) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, false
		case <-c.stopping:
			return nil, false
		case <-time.After(c.delay):
		}

		if err := c.waitReady(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, mq.ErrShutdown) {
				return nil, false
			}
			c.logger.Warn("mq client not ready, retrying", "attempt", attempt, "error", err)
			continue
		}

		deliveries, err := c.client.Consume()
		if err != nil {
			c.logger.Warn("failed to resubscribe, retrying", "attempt", attempt, "error", err)
			continue
		}

		c.logger.Info("consumer resubscribed", "attempts", attempt)
		if c.metrics != nil {
			c.metrics.ConsumerResubscribes.WithLabelValues(c.queue).Inc()
		}
		return deliveries, true
	}
}

// handleDelivery ingests a single message. Malformed and rejected rows are
// acked; storage failures are requeued.
func (c *RowConsumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	row, err := mq.DecodeRow(delivery.Body)
	if err != nil {
		c.logger.Error("failed to decode row message", "error", err)
		c.ack(delivery, "malformed")
		return
	}

	outcome, err := c.pipeline.IngestRow(ctx, ipdr.RawRow(row), c.kind)
	switch {
	case err == nil:
	case errors.Is(err, ipdr.ErrStorageUnavailable), ctx.Err() != nil:
		c.logger.Error("failed to store row, requeueing", "error", err)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		c.count("requeued")
		return
	default:
		c.logger.Error("failed to ingest row", "error", err)
		c.ack(delivery, "malformed")
		return
	}

	if outcome.Rejection != nil {
		c.logger.Warn("row rejected", "reason", outcome.Rejection.Code(), "error", outcome.Rejection)
		c.ack(delivery, "rejected")
		return
	}

	c.ack(delivery, "accepted")
	c.logger.Debug("row stored", "coordinate_incomplete", outcome.CoordinateIncomplete)
}

func (c *RowConsumer) ack(delivery amqp.Delivery, status string) {
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
	}
	c.count(status)
}

func (c *RowConsumer) count(status string) {
	if c.metrics != nil {
		c.metrics.ConsumerMessagesTotal.WithLabelValues(c.queue, status).Inc()
	}
}

// Stop closes the mq client and waits for processing to end. The caller
// cancels the context passed to Start first.
func (c *RowConsumer) Stop() error {
	c.logger.Info("stopping consumer")

	var err error
	c.stopOnce.Do(func() {
		close(c.stopping)
		if closeErr := c.client.Close(); closeErr != nil && !errors.Is(closeErr, mq.ErrAlreadyClosed) {
			err = fmt.Errorf("failed to close mq client: %w", closeErr)
		}
	})

	if c.started.Load() {
		<-c.done
	}

	c.logger.Info("consumer stopped")
	return err
}
