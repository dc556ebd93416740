package audit

import (
	"context"
	"sync/atomic"
	"time"

	"crmdesk.io/internal/obs"
)

const writeTimeout = 5 * time.Second

// DispatcherConfig sizes the dispatch buffer.
type DispatcherConfig struct {
	BufferSize int
	// DropIfFull makes Record non-blocking; overflow is counted and discarded.
	DropIfFull bool
}

// Dispatcher decouples audited operations from the sink. Record enqueues,
// Serve drains the queue into the sink until its context ends.
type Dispatcher struct {
	sink       Sink
	ch         chan Entry
	dropIfFull bool
	dropped    atomic.Uint64
	failed     atomic.Uint64
}

var _ Recorder = (*Dispatcher)(nil)

func NewDispatcher(sink Sink, cfg DispatcherConfig) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	return &Dispatcher{
		sink:       sink,
		ch:         make(chan Entry, cfg.BufferSize),
		dropIfFull: cfg.DropIfFull,
	}
}

// Record enqueues e. It never reports failure to the caller.
func (d *Dispatcher) Record(ctx context.Context, e Entry) {
	if d == nil {
		return
	}
	select {
	case d.ch <- e:
		return
	default:
	}
	if d.dropIfFull {
		d.drop(e)
		return
	}
	select {
	case d.ch <- e:
	case <-ctx.Done():
		d.drop(e)
	}
}

// Serve writes queued entries until ctx is done, then flushes what is
// already buffered. It satisfies suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		select {
		case e := <-d.ch:
			d.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-d.ch:
					d.write(e)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (d *Dispatcher) String() string { return "audit-dispatcher" }

// Dropped counts entries lost to a full buffer.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Failed counts entries the sink rejected.
func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }

func (d *Dispatcher) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := d.sink.Write(ctx, e); err != nil {
		d.failed.Add(1)
		obs.AuditSinkFailed()
		obs.Logger().Error().Err(err).
			Str("audit_id", e.ID).
			Str("action", string(e.Action)).
			Msg("audit sink write failed")
	}
}

func (d *Dispatcher) drop(e Entry) {
	d.dropped.Add(1)
	obs.AuditDropped()
	obs.Logger().Warn().Str("audit_id", e.ID).Str("action", string(e.Action)).Msg("audit entry dropped")
}
