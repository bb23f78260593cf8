package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int

	// DropIfFull discards events when the buffer is full instead of blocking
	// the emitting request.
	DropIfFull bool

	// Drops is incremented for every discarded event. Optional.
	Drops prometheus.Counter

	// Logger gets one warning on the first drop. Defaults to slog.Default.
	Logger *slog.Logger
}

// Dispatcher moves audit events off the request path onto a single delivery
// goroutine. A nil *Dispatcher accepts and discards events.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stopped    chan struct{}
	dropIfFull bool
	drops      prometheus.Counter
	logger     *slog.Logger

	// mu guards closed against Emit sending on a closed queue.
	mu       sync.RWMutex
	closed   bool
	dropped  atomic.Uint64
	warnOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing
// is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	size := max(cfg.BufferSize, 1)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, size),
		stopped:    make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
		drops:      cfg.Drops,
		logger:     logger,
	}
	go d.deliver()
	return d
}

// deliver runs until the queue is closed and drained.
func (d *Dispatcher) deliver() {
	defer close(d.stopped)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event, stamping its timestamp when unset. In blocking mode it
// waits for buffer space or ctx; events emitted after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.drop(event)
		}
		return
	}

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	select {
	case d.queue <- event:
	case <-done:
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	if d.drops != nil {
		d.drops.Inc()
	}
	d.warnOnce.Do(func() {
		d.logger.Warn("audit buffer full, dropping events",
			"component", "audit",
			"event", event.EventType,
			"buffer", cap(d.queue),
		)
	})
}

// Close stops accepting events, delivers what is buffered and waits for the
// delivery goroutine to exit. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped reports how many events were discarded on a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
