// Package supervise runs the process's long-lived services under a suture
// supervisor tree.
package supervise

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// TreeConfig holds restart and shutdown tuning. Zero values take suture's
// defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func (c *TreeConfig) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Tree is a root supervisor with two layers: background workers (audit
// dispatch, health probing) and the network servers.
type Tree struct {
	root    *suture.Supervisor
	workers *suture.Supervisor
	servers *suture.Supervisor
}

func NewTree(name string, log *zerolog.Logger, cfg TreeConfig) *Tree {
	cfg.setDefaults()
	spec := suture.Spec{
		EventHook:        EventHook(log),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	root := suture.New(name, spec)
	workers := suture.New("workers", spec)
	servers := suture.New("servers", spec)
	root.Add(workers)
	root.Add(servers)
	return &Tree{root: root, workers: workers, servers: servers}
}

func (t *Tree) AddWorker(svc suture.Service) suture.ServiceToken { return t.workers.Add(svc) }

func (t *Tree) AddServer(svc suture.Service) suture.ServiceToken { return t.servers.Add(svc) }

// Serve blocks until ctx is cancelled or the root supervisor gives up.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

// EventHook logs supervisor events through zerolog. Panics and terminations
// are errors, backoff transitions are warnings.
func EventHook(log *zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		var ev *zerolog.Event
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			ev = log.Error()
		case suture.EventTypeBackoff, suture.EventTypeStopTimeout:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
