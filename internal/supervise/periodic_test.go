package supervise

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPeriodicRunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	log := zerolog.New(io.Discard)
	p := NewPeriodic("token-sweep", 5*time.Millisecond, &log, func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.String() != "token-sweep" {
		t.Fatalf("unexpected name %q", p.String())
	}
}
