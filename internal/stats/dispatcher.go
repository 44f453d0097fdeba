package stats

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultBuffer is the dispatcher queue length used when none is configured.
const DefaultBuffer = 1024

// Dispatcher fans events out to a set of sinks from a single worker goroutine.
// Publish never blocks: when the queue is full the event is dropped and logged.
type Dispatcher struct {
	sinks  []Sink
	logger *zap.Logger

	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher delivering to sinks.
func NewDispatcher(logger *zap.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		sinks:  sinks,
		logger: logger,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish queues ev for delivery.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("stats queue full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.String("room", ev.Room))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		for _, sink := range d.sinks {
			if err := d.emit(sink, ev); err != nil {
				d.logger.Error("stats sink failed",
					zap.String("kind", string(ev.Kind)),
					zap.String("room", ev.Room),
					zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) emit(sink Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSinkUnavailable, r)
		}
	}()
	if err := sink.Emit(context.Background(), ev); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return nil
}

// Close stops accepting events and waits for the queued ones to be delivered,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
