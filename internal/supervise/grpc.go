package supervise

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
)

// GRPCService listens on addr and serves a fresh grpc.Server on every
// start, since a stopped server cannot be reused across restarts.
type GRPCService struct {
	addr            string
	register        func(*grpc.Server)
	opts            []grpc.ServerOption
	shutdownTimeout time.Duration
	listen          func(network, addr string) (net.Listener, error)
}

func NewGRPCService(addr string, register func(*grpc.Server), shutdownTimeout time.Duration, opts ...grpc.ServerOption) *GRPCService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &GRPCService{
		addr:            addr,
		register:        register,
		opts:            opts,
		shutdownTimeout: shutdownTimeout,
		listen:          net.Listen,
	}
}

func (g *GRPCService) Serve(ctx context.Context) error {
	lis, err := g.listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", g.addr, err)
	}
	server := grpc.NewServer(g.opts...)
	g.register(server)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(g.shutdownTimeout):
			server.Stop()
		}
		<-errCh
		return ctx.Err()
	}
}

func (g *GRPCService) String() string { return "grpc-server" }
