package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"crmdesk.io/internal/obs"
)

// HealthServer publishes grpc.health.v1 status for the overall server ("")
// and for the service name, following a ReadyProbe. It runs as a supervised
// service that re-probes on an interval.
type HealthServer struct {
	srv      *health.Server
	probe    ReadyProbe
	interval time.Duration
}

func NewHealthServer(probe ReadyProbe, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h := &HealthServer{srv: health.NewServer(), probe: probe, interval: interval}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh probes once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.probe.Check(ctx); err != nil {
		obs.Ctx(ctx).Warn().Err(err).Msg("grpc health: backend not ready")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.set(status)
	return status
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(obs.ServiceName, status)
}

func (h *HealthServer) Serve(ctx context.Context) error {
	h.srv.Resume()
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *HealthServer) String() string { return "grpc-health" }
