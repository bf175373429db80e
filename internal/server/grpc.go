package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the service name reported by the gRPC health server.
const HealthService = "scheduler.v1.Scheduler"

// NewGRPCServer creates a gRPC server exposing the standard health service
// and reflection.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	healthSrv.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(srv)
	return srv, healthSrv
}

// WatchHealth re-runs checks every interval and mirrors the result into the
// gRPC health server until ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, checks []HealthCheck, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		setServing(ctx, hs, checks)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setServing(ctx context.Context, hs *health.Server, checks []HealthCheck) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	hs.SetServingStatus(HealthService, status)
}
