// Package health exposes service health over the standard gRPC health protocol.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SandboxService is the health service name for the code sandbox.
const SandboxService = "sandbox"

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyReporter reports whether a component accepts work.
type ReadyReporter interface {
	Ready() bool
}

// Server serves grpc.health.v1. The overall service ("") follows the
// settings database; the "sandbox" service follows sandbox readiness.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	repo    Pinger
	sandbox ReadyReporter
}

// NewServer creates a health server. sandbox may be nil when execution is
// disabled.
func NewServer(repo Pinger, sandbox ReadyReporter) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, repo: repo, sandbox: sandbox}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(SandboxService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh re-evaluates every dependency and publishes the result.
func (s *Server) Refresh(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	if err := s.repo.Ping(ctx); err != nil {
		slog.Warn("Health check: database unreachable", "error", err)
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)

	sandbox := healthpb.HealthCheckResponse_NOT_SERVING
	if s.sandbox != nil && s.sandbox.Ready() {
		sandbox = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(SandboxService, sandbox)
}

// Watch refreshes the status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ticker.C:
			s.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks every service as not serving and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
