package notification

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 10 * time.Second
)

type sink struct {
	name string
	n    Notifier
}

// Dispatcher fans events out to every attached sink on its own goroutine.
// Notify never blocks: a full queue drops the event.
type Dispatcher struct {
	sinks   []sink
	queue   chan Event
	timeout time.Duration
	log     zerolog.Logger

	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once

	// Callbacks (for metrics)
	OnDrop      func()
	OnSendError func(sink string)
}

// NewDispatcher creates a dispatcher with a bounded queue. queueSize <= 0
// and sendTimeout <= 0 select defaults.
func NewDispatcher(queueSize int, sendTimeout time.Duration, log zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		queue:   make(chan Event, queueSize),
		timeout: sendTimeout,
		log:     log.With().Str("component", "dispatcher").Logger(),
		done:    make(chan struct{}),
	}
}

// Attach adds a sink. Call before Run.
func (d *Dispatcher) Attach(name string, n Notifier) {
	d.sinks = append(d.sinks, sink{name: name, n: n})
}

// Sinks returns the attached sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.name
	}
	return names
}

// Notify queues ev for delivery.
func (d *Dispatcher) Notify(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.log.Warn().Str("kind", string(ev.Kind)).Msg("notification queue full, event dropped")
		if d.OnDrop != nil {
			d.OnDrop()
		}
	}
}

// Dropped returns the number of events dropped on a full queue.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.n.Send(ctx, ev)
		cancel()
		if err != nil {
			d.log.Error().Err(err).Str("sink", s.name).Str("kind", string(ev.Kind)).Msg("notification failed")
			if d.OnSendError != nil {
				d.OnSendError(s.name)
			}
		}
	}
}

// Close closes sinks holding connections.
func (d *Dispatcher) Close() {
	for _, s := range d.sinks {
		if c, ok := s.n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				d.log.Warn().Err(err).Str("sink", s.name).Msg("close sink")
			}
		}
	}
}
