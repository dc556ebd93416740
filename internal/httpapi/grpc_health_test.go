package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"crmdesk.io/internal/obs"
)

const bufSize = 1024 * 1024

type togglePinger struct{ down atomic.Bool }

func (p *togglePinger) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func startBufGRPC(t *testing.T, hs *HealthServer) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	hs.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.Stop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

func TestHealthServerFollowsProbe(t *testing.T) {
	db := &togglePinger{}
	hs := NewHealthServer(ReadyProbe{DB: db}, time.Hour)
	conn, cleanup := startBufGRPC(t, hs)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.GetStatus()
	}

	if got := check(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before first probe, got %v", got)
	}

	if got := hs.Refresh(ctx); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}
	if got := check(obs.ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING for %s, got %v", obs.ServiceName, got)
	}

	db.down.Store(true)
	hs.Refresh(ctx)
	if got := check(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING with database down, got %v", got)
	}
}

func TestHealthServerServeStopsWithContext(t *testing.T) {
	hs := NewHealthServer(ReadyProbe{}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hs.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHealthzAndReadyz(t *testing.T) {
	env := newTestAPI(t)

	resp := env.do(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz body %v", body)
	}

	resp = env.do(http.MethodGet, "/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestReadyProbeReportsFailingBackend(t *testing.T) {
	redis := &togglePinger{}
	redis.down.Store(true)
	err := ReadyProbe{DB: &togglePinger{}, Redis: redis}.Check(context.Background())
	if err == nil || err.Error() != "redis: connection refused" {
		t.Fatalf("unexpected probe error %v", err)
	}
}
