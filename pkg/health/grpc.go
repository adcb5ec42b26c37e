package health

import (
	"context"
	"net"

	"ai-companion-demo/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer exposes the checker through the standard gRPC health protocol
// so orchestrators that only speak gRPC probes can watch the service.
type GRPCServer struct {
	server *grpc.Server
	health *grpchealth.Server
	log    *logger.Logger
}

// NewGRPCServer mirrors the checker's overall status into a gRPC health service
func NewGRPCServer(checker *Checker, log *logger.Logger) *GRPCServer {
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	hs.SetServingStatus("", servingStatus(checker.IsSystemHealthy()))
	checker.OnChange(func(healthy bool) {
		hs.SetServingStatus("", servingStatus(healthy))
	})

	return &GRPCServer{server: srv, health: hs, log: log}
}

// Health returns the underlying health service
func (s *GRPCServer) Health() *grpchealth.Server {
	return s.health
}

// Serve listens on addr until ctx is cancelled
func (s *GRPCServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	s.log.Info("gRPC health server listening", "addr", addr)
	return s.server.Serve(lis)
}

func servingStatus(healthy bool) healthpb.HealthCheckResponse_ServingStatus {
	if healthy {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
