package producer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"procodus.dev/ipdr/pkg/generator"
	"procodus.dev/ipdr/pkg/metrics"
	"procodus.dev/ipdr/pkg/mq"
)

const publishTimeout = 10 * time.Second

// ServerConfig holds the configuration for the producer server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// Generator supplies the rows
	Generator *generator.Generator
	// RabbitMQURL is the connection string for RabbitMQ
	RabbitMQURL string
	// IPDRQueue receives the generated sessions
	IPDRQueue string
	// ProfileQueue receives one profile per subscriber at start-up; empty skips profiles
	ProfileQueue string
	// Interval is the time between rows of one producer
	Interval time.Duration
	// ProducerCount is the number of concurrent producers
	ProducerCount int
	// Total stops the run after this many published sessions; zero runs until cancelled
	Total int
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.GeneratorMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
	// NewClient overrides how queue clients are created
	NewClient func(queue string) (mq.ClientInterface, error)
}

// Server runs several producers sharing one generator.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	producers []*Producer
	clients   []mq.ClientInterface
	published atomic.Int64
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
	errGeneratorRequired    = errors.New("generator is required")
	errQueueRequired        = errors.New("ipdr queue name is required")
)

// NewServer creates a new producer server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.Generator == nil {
		return nil, errGeneratorRequired
	}

	if cfg.IPDRQueue == "" {
		return nil, errQueueRequired
	}

	s := &Server{
		config:    cfg,
		producers: make([]*Producer, 0, cfg.ProducerCount),
		logger:    cfg.Logger,
	}

	newClient := cfg.NewClient
	if newClient == nil {
		newClient = func(queue string) (mq.ClientInterface, error) {
			return mq.New(mq.Config{
				URL:     cfg.RabbitMQURL,
				Queue:   queue,
				Logger:  cfg.Logger.With(slog.String("component", "mq-client")),
				Metrics: cfg.MQMetrics,
			})
		}
	}

	var profiles mq.ClientInterface
	if cfg.ProfileQueue != "" {
		client, err := newClient(cfg.ProfileQueue)
		if err != nil {
			return nil, err
		}
		profiles = client
		s.clients = append(s.clients, client)
	}

	// Create producer instances with their own MQ clients
	for i := 0; i < cfg.ProducerCount; i++ {
		client, err := newClient(cfg.IPDRQueue)
		if err != nil {
			s.closeClients()
			return nil, err
		}
		s.clients = append(s.clients, client)

		// Only the first producer publishes profiles
		var profilePub mq.Publisher
		if i == 0 && profiles != nil {
			profilePub = profiles
		}

		producer, err := NewProducer(client, profilePub, cfg.Generator, cfg.Metrics)
		if err != nil {
			s.closeClients()
			return nil, err
		}
		s.producers = append(s.producers, producer)

		s.logger.Info("created producer instance",
			"producer_id", i,
			"queue", cfg.IPDRQueue,
		)
	}

	return s, nil
}

// Published returns the number of sessions published so far.
func (s *Server) Published() int64 {
	return s.published.Load()
}

// Run publishes the profiles, starts all producers and blocks until shutdown
// or until Total sessions were published.
func (s *Server) Run(ctx context.Context) error {
	// Create context that can be canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if s.config.ProfileQueue != "" {
		sent, err := s.producers[0].PublishProfiles(ctx)
		if err != nil {
			s.logger.Error("failed to publish some profiles", "sent", sent, "error", err)
		} else {
			s.logger.Info("profiles published", "count", sent)
		}
	}

	// Start all producers
	for i, producer := range s.producers {
		s.wg.Add(1)
		go s.runProducer(ctx, cancel, i, producer)
	}

	s.logger.Info("producer server started",
		"producer_count", len(s.producers),
		"interval", s.config.Interval,
		"total", s.config.Total,
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	// Wait for all producers to finish
	s.logger.Info("waiting for producers to shut down...")
	s.wg.Wait()

	// Close all MQ clients
	s.logger.Info("closing MQ clients...")
	s.closeClients()

	s.logger.Info("producer server stopped", "published", s.Published())
	return nil
}

// runProducer publishes a session every interval until ctx ends or the total is reached.
func (s *Server) runProducer(ctx context.Context, done context.CancelFunc, id int, producer *Producer) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	producerLogger := s.logger.With(slog.Int("producer_id", id))
	producerLogger.Info("producer started")

	for {
		select {
		case <-ctx.Done():
			producerLogger.Info("producer shutting down")
			return

		case <-ticker.C:
			total := int64(s.config.Total)
			n := s.published.Add(1)
			if total > 0 && n > total {
				s.published.Add(-1)
				done()
				return
			}

			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := producer.PublishIPDR(pubCtx)
			cancel()
			if err != nil {
				s.published.Add(-1)
				producerLogger.Error("failed to publish row",
					"error", err,
				)
				// Continue on error - don't stop the producer
				continue
			}

			producerLogger.Debug("row published", "published", n)
			if total > 0 && n == total {
				done()
				return
			}
		}
	}
}

// closeClients closes all MQ clients once.
func (s *Server) closeClients() {
	s.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for i, client := range s.clients {
			wg.Add(1)
			go func(id int, c mq.ClientInterface) {
				defer wg.Done()

				if err := c.Close(); err != nil {
					s.logger.Error("failed to close MQ client",
						"client_id", id,
						"error", err,
					)
					return
				}

				s.logger.Debug("MQ client closed", "client_id", id)
			}(i, client)
		}
		wg.Wait()
	})
}

// Shutdown closes the MQ clients. This is an alternative to sending OS signals.
func (s *Server) Shutdown() error {
	s.logger.Info("shutdown requested")
	s.closeClients()
	return nil
}
