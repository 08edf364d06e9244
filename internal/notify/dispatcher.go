package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher delivers events on a bounded worker pool. Send never blocks the
// caller; when the queue is full the event is dropped and logged.
type Dispatcher struct {
	sink    Sink
	logger  *zap.Logger
	queue   chan Event
	timeout time.Duration

	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
}

// NewDispatcher starts workers delivering to sink.
func NewDispatcher(sink Sink, workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		queue:   make(chan Event, queueSize),
		timeout: 15 * time.Second,
	}
	for range workers {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Notify(ctx, ev); err != nil {
			d.logger.Warn("failed to send notification",
				zap.String("person_id", ev.PersonID),
				zap.String("status", ev.Status),
				zap.Error(err))
		} else {
			d.logger.Debug("notification sent", zap.String("person_id", ev.PersonID), zap.String("status", ev.Status))
		}
		cancel()
	}
}

// Send queues an event. It reports false when the event was dropped.
func (d *Dispatcher) Send(ev Event) bool {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.logger.Warn("notification queue full, dropping event", zap.String("person_id", ev.PersonID))
		return false
	}
}

// Notify implements Sink by queueing the event.
func (d *Dispatcher) Notify(_ context.Context, ev Event) error {
	d.Send(ev)
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.closeMu.Unlock()
	d.wg.Wait()
}
