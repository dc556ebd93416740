package supervise

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type mockHTTPServer struct {
	listenErr     error
	shutdownErr   error
	shutdownCount atomic.Int32
	started       chan struct{}
	stopCh        chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdownCount.Add(1)
	close(m.stopCh)
	return m.shutdownErr
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	mock := newMockHTTPServer()
	svc := NewHTTPService(mock, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-mock.started:
	case <-time.After(time.Second):
		t.Fatal("ListenAndServe not called")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if mock.shutdownCount.Load() != 1 {
		t.Fatalf("expected one Shutdown, got %d", mock.shutdownCount.Load())
	}
}

func TestHTTPServiceListenFailure(t *testing.T) {
	mock := newMockHTTPServer()
	mock.listenErr = errors.New("address already in use")
	svc := NewHTTPService(mock, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, mock.listenErr) {
		t.Fatalf("expected wrapped listen error, got %v", err)
	}
}

func TestHTTPServiceShutdownFailure(t *testing.T) {
	mock := newMockHTTPServer()
	mock.shutdownErr = errors.New("deadline")
	svc := NewHTTPService(mock, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Serve(ctx); !errors.Is(err, mock.shutdownErr) {
		t.Fatalf("expected shutdown error, got %v", err)
	}
}

func TestHTTPServiceString(t *testing.T) {
	if got := NewHTTPService(newMockHTTPServer(), 0).String(); got != "http-server" {
		t.Fatalf("unexpected name %q", got)
	}
}
