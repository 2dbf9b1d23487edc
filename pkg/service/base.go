package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/agentgraph/agentgraph-open/pkg/config"
	"github.com/agentgraph/agentgraph-open/pkg/health"
	"github.com/agentgraph/agentgraph-open/pkg/logger"
)

// Service interface that all services run by BaseService must implement
type Service interface {
	// Initialize is called once the gRPC listener is bound but before serving
	Initialize(ctx context.Context, config *config.Config) error

	// Start begins the service's main work
	Start(ctx context.Context) error

	// Stop gracefully shuts down the service
	Stop(ctx context.Context, gracePeriod time.Duration) error

	// CollectMetrics returns current service metrics
	CollectMetrics() map[string]int64

	// HealthChecks returns service-specific health check functions
	HealthChecks() map[string]health.CheckFunc
}

// GRPCServerAware is an optional interface that services can implement
// if they need access to the shared gRPC server
type GRPCServerAware interface {
	SetGRPCServer(server *grpc.Server)
}

// LoggerAware is an optional interface that services can implement
// if they need access to the logger
type LoggerAware interface {
	SetLogger(logger *logger.Logger)
}

// State is the lifecycle state of a BaseService.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "created"
	}
}

// BaseService provides the common lifecycle for a service: a gRPC server
// carrying the standard health service, periodic health checks, signal
// handling and graceful shutdown.
type BaseService struct {
	// Service identification
	Name       string
	Version    string
	InstanceID string

	// Network configuration
	Port int

	// Core components
	Logger        *logger.Logger
	Config        *config.Config
	HealthChecker *health.Checker

	HealthInterval time.Duration
	GracePeriod    time.Duration

	grpcServer   *grpc.Server
	healthServer *grpchealth.Server
	listener     net.Listener

	// State management
	mu        sync.RWMutex
	state     State
	stopCh    chan struct{}
	stopOnce  sync.Once
	stoppedCh chan struct{}

	// Service implementation
	impl Service
}

// NewBaseService creates a new base service instance
func NewBaseService(name, version string, port int, cfg *config.Config, impl Service) *BaseService {
	if cfg == nil {
		cfg = config.New()
	}
	return &BaseService{
		Name:           name,
		Version:        version,
		InstanceID:     uuid.New().String(),
		Port:           port,
		Logger:         logger.New(name, version),
		Config:         cfg,
		HealthChecker:  health.NewChecker(),
		HealthInterval: 10 * time.Second,
		GracePeriod:    30 * time.Second,
		stopCh:         make(chan struct{}),
		stoppedCh:      make(chan struct{}),
		impl:           impl,
	}
}

// Run starts the service and blocks until it has been shut down by a
// signal, a call to Stop, context cancellation or a gRPC serve failure.
func (s *BaseService) Run(ctx context.Context) error {
	s.setState(StateStarting)

	if err := s.startGRPCServer(); err != nil {
		return fmt.Errorf("failed to start gRPC server: %w", err)
	}

	// Provide gRPC server to service implementation
	if gRPCAware, ok := s.impl.(GRPCServerAware); ok {
		gRPCAware.SetGRPCServer(s.grpcServer)
	}

	// Provide logger to service implementation
	if loggerAware, ok := s.impl.(LoggerAware); ok {
		loggerAware.SetLogger(s.Logger)
	}

	if err := s.impl.Initialize(ctx, s.Config); err != nil {
		s.closeListener()
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	s.Logger.Infof("Service implementation initialized successfully")

	for name, fn := range s.impl.HealthChecks() {
		s.HealthChecker.Register(name, fn)
	}

	if err := s.impl.Start(ctx); err != nil {
		s.closeListener()
		return fmt.Errorf("failed to start service: %w", err)
	}
	s.Logger.Infof("Service implementation started successfully")

	s.refreshHealth(ctx)
	s.setState(StateRunning)
	s.Logger.Infof("Service started successfully (instance %s)", s.InstanceID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Logger.Infof("Starting gRPC server on %s", s.listener.Addr())
		if err := s.grpcServer.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.healthCheckLoop(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-sigCh:
			s.Logger.Info("Received shutdown signal")
		case <-s.stopCh:
			s.Logger.Info("Received stop command")
		case <-gctx.Done():
			s.Logger.Info("Context cancelled")
		}
		return s.shutdown()
	})

	return g.Wait()
}

// Stop asks a running service to shut down. It is safe to call more than once.
func (s *BaseService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed once shutdown has completed.
func (s *BaseService) Done() <-chan struct{} {
	return s.stoppedCh
}

// State returns the current lifecycle state.
func (s *BaseService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Addr returns the bound gRPC listener address, or nil before Run.
func (s *BaseService) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Metrics merges runtime metrics with the implementation's own counters.
func (s *BaseService) Metrics() map[string]int64 {
	metrics := runtimeMetrics()
	for k, v := range s.impl.CollectMetrics() {
		metrics[k] = v
	}
	return metrics
}

func (s *BaseService) startGRPCServer() error {
	maxRetries := 3
	retryDelay := time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
		if err != nil {
			if attempt < maxRetries {
				s.Logger.Warnf("Failed to bind to port %d (attempt %d/%d): %v, retrying...", s.Port, attempt, maxRetries, err)
				time.Sleep(retryDelay)
				retryDelay *= 2
				continue
			}
			return fmt.Errorf("failed to listen on port %d after %d attempts: %w", s.Port, maxRetries, err)
		}

		var opts []grpc.ServerOption
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Second,
			MaxConnectionAge:  30 * time.Second,
			Time:              5 * time.Second,
			Timeout:           1 * time.Second,
		}))

		server := grpc.NewServer(opts...)
		healthServer := grpchealth.NewServer()
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus(s.Name, healthpb.HealthCheckResponse_NOT_SERVING)
		healthpb.RegisterHealthServer(server, healthServer)

		s.mu.Lock()
		s.grpcServer = server
		s.healthServer = healthServer
		s.listener = lis
		s.mu.Unlock()

		s.Logger.Infof("gRPC server created on %s", lis.Addr())
		return nil
	}

	return fmt.Errorf("failed to start gRPC server after %d attempts", maxRetries)
}

func (s *BaseService) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(s.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refreshHealth(ctx)
		case <-ctx.Done():
			return
		case <-s.stoppedCh:
			return
		}
	}
}

// refreshHealth runs all checks and mirrors the result into the gRPC health service.
func (s *BaseService) refreshHealth(ctx context.Context) {
	status := s.HealthChecker.RunAll(ctx)

	serving := healthpb.HealthCheckResponse_SERVING
	if status == health.StatusUnhealthy {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
		for _, check := range s.HealthChecker.GetAllChecks() {
			if check.Status != health.StatusHealthy {
				s.Logger.Warnf("Health check %s failing: %s", check.Name, check.Message)
			}
		}
	}
	if s.State() == StateStopping || s.State() == StateStopped {
		return
	}
	s.healthServer.SetServingStatus("", serving)
	s.healthServer.SetServingStatus(s.Name, serving)
}

func (s *BaseService) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *BaseService) closeListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *BaseService) shutdown() error {
	s.setState(StateStopping)
	s.Logger.Info("Starting graceful shutdown")
	s.healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.GracePeriod)
	defer cancel()

	var stopErr error
	if err := s.impl.Stop(ctx, s.GracePeriod); err != nil {
		s.Logger.Errorf("Service implementation shutdown error: %v", err)
		stopErr = err
	}

	s.Logger.Infof("Final metrics: %s", formatMetrics(s.Metrics()))

	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}

	close(s.stoppedCh)
	s.setState(StateStopped)
	s.Logger.Info("Service stopped")

	return stopErr
}
