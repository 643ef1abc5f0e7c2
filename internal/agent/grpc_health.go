package agent

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/ashureev/intakeflow/internal/api"
)

// InterviewServiceName is the service name reported on the gRPC health endpoint.
const InterviewServiceName = "intakeflow.Interview"

// HealthService exposes grpc.health.v1 for orchestrators and load balancers.
type HealthService struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewHealthService creates a gRPC server with the health service registered.
func NewHealthService(logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(InterviewServiceName, healthpb.HealthCheckResponse_SERVING)

	return &HealthService{server: srv, health: hs, logger: logger}
}

// Server returns the underlying gRPC server for Serve/Stop.
func (s *HealthService) Server() *grpc.Server {
	return s.server
}

// SetServing flips the interview service status.
func (s *HealthService) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(InterviewServiceName, status)
}

// Watch pings db every interval and mirrors the result into the health
// status until ctx is done. The returned channel closes when Watch exits.
func (s *HealthService) Watch(ctx context.Context, db api.Pinger, interval, timeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if db == nil || interval <= 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		healthy := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pctx, cancel := context.WithTimeout(ctx, timeout)
				err := db.Ping(pctx)
				cancel()
				if ok := err == nil; ok != healthy {
					healthy = ok
					s.SetServing(ok)
					s.logger.Info("gRPC health status changed", "serving", ok, "error", err)
				}
			}
		}
	}()
	return done
}

// Shutdown marks everything NOT_SERVING and stops the server gracefully.
func (s *HealthService) Shutdown() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
