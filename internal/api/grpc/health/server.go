package health

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/arthur326/ARMS/internal/domain/alert"
	"github.com/arthur326/ARMS/internal/logger"
)

// Health service names.
const (
	ServiceARMS  = "arms"
	ServiceAlert = "arms.alert"
)

// Server publishes status changes as gRPC health states.
type Server struct {
	// health holds the serving states.
	health *grpchealth.Server
	// grpc serves the health service.
	grpc *grpc.Server
}

// NewServer creates a server reporting NOT_SERVING until the first status is published.
func NewServer() *Server {
	hs := grpchealth.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	for _, name := range []string{"", ServiceARMS, ServiceAlert} {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	return &Server{
		health: hs,
		grpc:   gs,
	}
}

// Publish maps a status onto the health services.
func (s *Server) Publish(_ context.Context, status *alert.Status) {
	operating := healthpb.HealthCheckResponse_NOT_SERVING

	switch status.Mode {
	case alert.ModeScanning, alert.ModeConfirming, alert.ModeAlert, alert.ModeTesting:
		operating = healthpb.HealthCheckResponse_SERVING
	case alert.ModeStarting, alert.ModeBootError, alert.ModeStopped:
	}

	quiet := healthpb.HealthCheckResponse_SERVING
	if status.InAlert() {
		quiet = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus("", operating)
	s.health.SetServingStatus(ServiceARMS, operating)
	s.health.SetServingStatus(ServiceAlert, quiet)
}

// Serve serves on lis and blocks until ctx is canceled or the server stops.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	logger.InfoKV(ctx, "Status server listening", "listen_address", lis.Addr().String())

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down status server")
		s.health.Shutdown()
		s.grpc.GracefulStop()
		close(done)
	}()

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "Status server stopped")

	return nil
}

// ListenAndServe listens on address and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	return s.Serve(ctx, lis)
}
