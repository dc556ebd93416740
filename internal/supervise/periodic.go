package supervise

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Periodic runs fn every interval until its context ends. A failing run is
// logged and retried on the next tick.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(context.Context) error
	log      *zerolog.Logger
}

func NewPeriodic(name string, interval time.Duration, log *zerolog.Logger, fn func(context.Context) error) *Periodic {
	return &Periodic{name: name, interval: interval, fn: fn, log: log}
}

func (p *Periodic) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.fn(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Str("task", p.name).Msg("periodic task failed")
			}
		}
	}
}

func (p *Periodic) String() string { return p.name }
