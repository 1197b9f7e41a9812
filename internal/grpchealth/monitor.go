package grpchealth

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PredictionService is the health service name tracking the prediction origin.
const PredictionService = "prediction"

// Pinger is satisfied by prediction.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor publishes the prediction origin's reachability over the standard
// gRPC health protocol.
type Monitor struct {
	server      *health.Server
	pinger      Pinger
	interval    time.Duration
	pingTimeout time.Duration
	logger      *zap.Logger
}

// NewMonitor returns a monitor that reports NOT_SERVING until the first successful ping.
func NewMonitor(pinger Pinger, interval time.Duration, logger *zap.Logger) *Monitor {
	m := &Monitor{
		server:      health.NewServer(),
		pinger:      pinger,
		interval:    interval,
		pingTimeout: 5 * time.Second,
		logger:      logger.Named("health_monitor"),
	}
	m.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

// Register attaches the health service to s.
func (m *Monitor) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, m.server)
}

// Check pings the prediction origin once and updates the published status.
func (m *Monitor) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := m.pinger.Ping(pingCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		m.logger.Warn("prediction service unreachable", zap.Error(err))
	}
	m.setStatus(status)
	return status
}

// Run checks immediately and then every interval until ctx is done, after
// which every service reports NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(PredictionService, status)
}

// Serve runs a gRPC server hosting the monitor on listener until ctx is done.
func Serve(ctx context.Context, listener net.Listener, monitor *Monitor, logger *zap.Logger) error {
	server := grpc.NewServer()
	monitor.Register(server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("stopping grpc health server")
		server.GracefulStop()
		if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}
