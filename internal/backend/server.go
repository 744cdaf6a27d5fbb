package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"

	"procodus.dev/ipdr/internal/api"
	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/internal/store"
	"procodus.dev/ipdr/pkg/metrics"
	"procodus.dev/ipdr/pkg/mq"
)

// HealthService is the gRPC health service name reporting store reachability.
const HealthService = "ipdr.Store"

const (
	defaultHealthInterval = 10 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// Server runs the HTTP API, the gRPC health endpoint and the queue consumers
// on top of one store.
type Server struct {
	logger       *slog.Logger
	config       *ServerConfig
	db           *gorm.DB
	geo          *geoStack
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
	consumers    []*RowConsumer

	mu       sync.Mutex
	httpAddr net.Addr
	grpcAddr net.Addr
	ready    chan struct{}
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	DB *store.DBConfig

	// HTTP and gRPC ports. Zero picks a free port.
	HTTPPort int
	GRPCPort int

	// RabbitMQ configuration. An empty URL disables the consumers; an empty
	// queue name disables that consumer.
	RabbitMQURL  string
	IPDRQueue    string
	ProfileQueue string

	Geo GeoConfig

	// Location is the zone for zone-less timestamps and monthly buckets (UTC when nil).
	Location        *time.Location
	DefaultRadiusKm float64
	ScanBatchSize   int

	// HealthInterval is how often the store is pinged for the gRPC health status.
	HealthInterval time.Duration

	// Metrics enables GET /metrics and component instrumentation. Optional.
	Metrics *metrics.Set
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DB == nil {
		return nil, errors.New("database config cannot be nil")
	}

	if cfg.HTTPPort < 0 || cfg.HTTPPort > 65535 {
		return nil, errors.New("HTTP port must be between 0 and 65535")
	}

	if cfg.GRPCPort < 0 || cfg.GRPCPort > 65535 {
		return nil, errors.New("gRPC port must be between 0 and 65535")
	}

	if cfg.RabbitMQURL != "" && cfg.IPDRQueue == "" && cfg.ProfileQueue == "" {
		return nil, errors.New("at least one queue name is required when rabbitmq is configured")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
		ready:  make(chan struct{}),
	}, nil
}

// Ready is closed once every listener is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// HTTPAddr returns the bound HTTP address, or nil before Ready.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address, or nil before Ready.
func (s *Server) GRPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting ipdr server")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	m := s.config.Metrics
	if m == nil {
		m = &metrics.Set{}
	}

	// Initialize database
	db, err := store.NewDB(s.config.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	st, err := store.NewGormStore(db, s.logger, m.Store)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create store: %w", err), s.Shutdown())
	}

	s.logger.Info("database initialized successfully")

	geo, err := newGeoStack(s.config.Geo, s.logger, m.API)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to initialize geo services: %w", err), s.Shutdown())
	}
	s.geo = geo

	handler, pipeline, err := s.buildAPI(st, m)
	if err != nil {
		return errors.Join(err, s.Shutdown())
	}

	errChan := make(chan error, 2)

	if err := s.startHTTP(handler, errChan); err != nil {
		return errors.Join(err, s.Shutdown())
	}

	if err := s.startGRPC(errChan); err != nil {
		return errors.Join(err, s.Shutdown())
	}
	go s.watchHealth(ctx, st)

	if err := s.startConsumers(ctx, pipeline, m); err != nil {
		return errors.Join(err, s.Shutdown())
	}

	close(s.ready)
	s.logger.Info("ipdr server started successfully")

	// Wait for shutdown signal or a listener error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-errChan:
		s.logger.Error("server error", "error", err)
		cancel()
		return errors.Join(err, s.Shutdown())
	}

	cancel()
	return s.Shutdown()
}

func (s *Server) buildAPI(st ipdr.Store, m *metrics.Set) (http.Handler, *ipdr.Pipeline, error) {
	loc := s.config.Location
	if loc == nil {
		loc = time.UTC
	}

	pipeline, err := ipdr.NewPipeline(&ipdr.PipelineConfig{
		Store:      st,
		Normalizer: ipdr.NewNormalizer(loc),
		Logger:     s.logger,
		Metrics:    m.Ingest,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	proximity, err := ipdr.NewProximityEngine(&ipdr.ProximityConfig{
		Store:           st,
		Logger:          s.logger,
		DefaultRadiusKm: s.config.DefaultRadiusKm,
		BatchSize:       s.config.ScanBatchSize,
		Metrics:         m.Query,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create proximity engine: %w", err)
	}

	stats, err := ipdr.NewStatsAggregator(&ipdr.StatsConfig{
		Store:     st,
		Logger:    s.logger,
		Location:  loc,
		BatchSize: s.config.ScanBatchSize,
		Metrics:   m.Query,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stats aggregator: %w", err)
	}

	locations, err := ipdr.NewLocationService(&ipdr.LocationConfig{
		Store:    st,
		Geocoder: s.geo.geocoder,
		Locator:  s.geo.locator,
		Logger:   s.logger,
		Timeout:  s.config.Geo.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create location service: %w", err)
	}

	a, err := api.New(&api.Config{
		Logger:    s.logger,
		Store:     st,
		Pipeline:  pipeline,
		Proximity: proximity,
		Stats:     stats,
		Locations: locations,
		Metrics:   m.API,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create api: %w", err)
	}

	mux := a.Routes()
	if s.config.Metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return mux, pipeline, nil
}

func (s *Server) startHTTP(handler http.Handler, errChan chan<- error) error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpAddr = lis.Addr()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "address", lis.Addr().String())

	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	return nil
}

func (s *Server) startGRPC(errChan chan<- error) error {
	addr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.grpcServer = grpc.NewServer()
	s.healthServer = health.NewServer()
	s.healthServer.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	reflection.Register(s.grpcServer)

	s.mu.Lock()
	s.grpcAddr = lis.Addr()
	s.mu.Unlock()

	s.logger.Info("starting gRPC server", "address", lis.Addr().String())

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	return nil
}

// watchHealth mirrors store reachability into the gRPC health service.
func (s *Server) watchHealth(ctx context.Context, st ipdr.Store) {
	interval := s.config.HealthInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status := healthpb.HealthCheckResponse_SERVING
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := st.Ping(pingCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("store health check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.healthServer.SetServingStatus(HealthService, status)
		s.healthServer.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) startConsumers(ctx context.Context, pipeline *ipdr.Pipeline, m *metrics.Set) error {
	if s.config.RabbitMQURL == "" {
		s.logger.Info("rabbitmq not configured, queue ingestion disabled")
		return nil
	}

	queues := []struct {
		name string
		kind ipdr.Kind
	}{
		{s.config.IPDRQueue, ipdr.KindIPDR},
		{s.config.ProfileQueue, ipdr.KindProfile},
	}

	for _, q := range queues {
		if q.name == "" {
			continue
		}

		client, err := mq.New(mq.Config{
			URL:     s.config.RabbitMQURL,
			Queue:   q.name,
			Logger:  s.logger,
			Metrics: m.MQ,
		})
		if err != nil {
			return fmt.Errorf("failed to create mq client for %s: %w", q.name, err)
		}

		consumer, err := NewRowConsumer(&RowConsumerConfig{
			Logger:   s.logger,
			Pipeline: pipeline,
			Client:   client,
			Kind:     q.kind,
			Queue:    q.name,
			Metrics:  m.Ingest,
		})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to initialize consumer: %w", err)
		}

		if err := consumer.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to start consumer for %s: %w", q.name, err)
		}
		s.consumers = append(s.consumers, consumer)
	}
	return nil
}

// Shutdown gracefully shuts down the server. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down ipdr server")

	var errs []error

	// Stop HTTP server
	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to stop HTTP server", "error", err)
			errs = append(errs, fmt.Errorf("http shutdown error: %w", err))
		}
		cancel()
		s.httpServer = nil
	}

	// Stop gRPC server
	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
		s.grpcServer = nil
		s.logger.Info("gRPC server stopped")
	}

	// Stop consumers
	for _, c := range s.consumers {
		if err := c.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			errs = append(errs, fmt.Errorf("consumer shutdown error: %w", err))
		}
	}
	s.consumers = nil

	if s.geo != nil {
		if err := s.geo.Close(); err != nil {
			s.logger.Error("failed to close geo services", "error", err)
			errs = append(errs, fmt.Errorf("geo shutdown error: %w", err))
		}
		s.geo = nil
	}

	// Close database
	if s.db != nil {
		s.logger.Info("closing database connection")
		if err := store.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			errs = append(errs, fmt.Errorf("database close error: %w", err))
		}
		s.db = nil
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("ipdr server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("ipdr server shutdown completed successfully")
	return nil
}
