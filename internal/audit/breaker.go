package audit

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"crmdesk.io/internal/obs"
)

// BreakerConfig tunes BreakerSink.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerSink stops calling next after ConsecutiveFailures errors in a row
// and probes it again once OpenTimeout has passed.
type BreakerSink struct {
	next Sink
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerSink(next Sink, cfg BreakerConfig) *BreakerSink {
	if cfg.Name == "" {
		cfg.Name = "audit-sink"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			obs.Logger().Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("audit sink breaker state change")
		},
	}
	return &BreakerSink{next: next, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

// Write returns gobreaker.ErrOpenState while the breaker is open.
func (b *BreakerSink) Write(ctx context.Context, e Entry) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Write(ctx, e)
	})
	return err
}

// State reports the breaker state.
func (b *BreakerSink) State() gobreaker.State {
	return b.cb.State()
}
