package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// dropLogEvery limits drop warnings to the first drop and every n-th after.
const dropLogEvery = 100

// Config controls how the Dispatcher queues events for its sink.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events when the queue is full instead of blocking
	// the auth flow that emitted them.
	DropIfFull bool
	Logger     zerolog.Logger
}

// Dispatcher hands audit events to a sink on a single worker goroutine so
// auth flows never wait on Postgres or log I/O. A nil *Dispatcher is a
// disabled one.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stop       chan struct{}
	dropIfFull bool
	log        zerolog.Logger

	worker   sync.WaitGroup
	dropped  atomic.Uint64
	closed   atomic.Bool
	stopOnce sync.Once
}

// NewDispatcher starts the worker. It returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, cfg.BufferSize),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
		log:        cfg.Logger,
	}
	d.worker.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.worker.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain flushes whatever was queued before Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

// deliver isolates the worker from a misbehaving sink.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("event_type", ev.EventType).Msg("audit sink panicked")
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev. In drop mode a full queue drops the event; otherwise Emit
// waits for room until ctx ends, which also counts as a drop.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.drop(ev, "queue full")
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.drop(ev, "caller context done")
	case <-d.stop:
	}
}

func (d *Dispatcher) drop(ev Event, cause string) {
	n := d.dropped.Add(1)
	if n == 1 || n%dropLogEvery == 0 {
		d.log.Warn().
			Str("event_type", ev.EventType).
			Str("identity_id", ev.IdentityID).
			Str("cause", cause).
			Uint64("dropped_total", n).
			Msg("audit event dropped")
	}
}

// Close stops accepting events, flushes the queue and waits for the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

// Dropped returns the number of events lost to a full queue or an expired
// caller context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
