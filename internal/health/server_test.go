package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeSandbox struct{ ready atomic.Bool }

func (f *fakeSandbox) Ready() bool { return f.ready.Load() }

func startServer(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) failed: %v", service, err)
	}
	return resp.GetStatus()
}

func TestServer_ReportsDependencies(t *testing.T) {
	sandbox := &fakeSandbox{}
	s := NewServer(fakePinger{}, sandbox)
	client := startServer(t, s)

	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING before first refresh, got %s", got)
	}

	s.Refresh(context.Background())
	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall = %s, want SERVING", got)
	}
	if got := status(t, client, SandboxService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("sandbox = %s, want NOT_SERVING", got)
	}

	sandbox.ready.Store(true)
	s.Refresh(context.Background())
	if got := status(t, client, SandboxService); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("sandbox = %s, want SERVING", got)
	}
}

func TestServer_DatabaseDown(t *testing.T) {
	s := NewServer(fakePinger{err: errors.New("database is closed")}, nil)
	client := startServer(t, s)

	s.Refresh(context.Background())
	if got := status(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall = %s, want NOT_SERVING", got)
	}
	if got := status(t, client, SandboxService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("disabled sandbox = %s, want NOT_SERVING", got)
	}
}
