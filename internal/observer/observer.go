// Package observer is the event ingestion point of the sidecar. It applies
// sampling, buffers accepted events in a bounded queue with a configurable
// drop policy, and drains the queue on one background worker that dispatches
// to registered handlers. The producer-facing path never blocks beyond two
// O(1) critical sections and never lets a failure escape as a panic.
package observer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/forgerun/sidecar/internal/config"
	"github.com/forgerun/sidecar/internal/metrics"
	"github.com/forgerun/sidecar/internal/models"
)

// pollInterval bounds dispatch latency while the queue is empty.
const pollInterval = 10 * time.Millisecond

// Metric names auto-registered on the attached collector.
const (
	metricReceived  = "sidecar_events_received_total"
	metricSampled   = "sidecar_events_sampled_total"
	metricDropped   = "sidecar_events_dropped_total"
	metricAccepted  = "sidecar_events_accepted_total"
	metricProcessed = "sidecar_events_processed_total"
	metricErrors    = "sidecar_errors_total"
)

// Handler consumes one event. Handlers run on the worker goroutine, one
// event at a time.
type Handler func(models.Event)

// Gate decides whether an event of the given signal class is kept. The
// sampler satisfies this; a nil gate keeps everything.
type Gate interface {
	ShouldSample(signal models.Signal) bool
}

// EventOption sets an optional correlation field on an event.
type EventOption func(*models.Event)

// WithExecutionID tags the event with the host execution it belongs to.
func WithExecutionID(id string) EventOption {
	return func(e *models.Event) { e.ExecutionID = id }
}

// WithTestID tags the event with the test that produced it.
func WithTestID(id string) EventOption {
	return func(e *models.Event) { e.TestID = id }
}

// WithRunID tags the event with the run that produced it.
func WithRunID(id string) EventOption {
	return func(e *models.Event) { e.RunID = id }
}

// Observer ingests, samples, queues, and dispatches events.
type Observer struct {
	mu    sync.Mutex
	queue *eventQueue

	received  int64
	sampled   int64
	dropped   int64
	processed int64
	errors    int64
	lastError string

	running bool
	stopCh  chan struct{}
	done    chan struct{}

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	gate       Gate
	collector  *metrics.Collector
	dropOnFull bool
	logger     *zap.Logger
	throttle   *rate.Limiter
	now        func() time.Time
}

// New creates an Observer with the queue sized per cfg. gate may be nil to
// keep every event; collector may be nil to skip global metric counters.
func New(cfg config.ResourceConfig, gate Gate, collector *metrics.Collector, logger *zap.Logger) *Observer {
	return &Observer{
		queue:      newEventQueue(cfg.MaxQueueSize),
		dropOnFull: cfg.DropOnFull,
		gate:       gate,
		collector:  collector,
		handlers:   make(map[string]Handler),
		logger:     logger,
		throttle:   rate.NewLimiter(rate.Every(time.Second), 5),
		now:        time.Now,
	}
}

// Observe ingests one event. It returns true only when the event was queued
// for dispatch; false uniformly covers sampled-out, queue-rejected, and
// internal failure. It never panics.
func (o *Observer) Observe(eventType string, data map[string]any, opts ...EventOption) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			o.recordError(fmt.Errorf("observe %s: %v", eventType, r))
			accepted = false
		}
	}()

	o.mu.Lock()
	o.received++
	o.mu.Unlock()
	o.count(metricReceived)

	if o.gate != nil && !o.gate.ShouldSample(models.SignalFor(eventType)) {
		return false
	}

	o.mu.Lock()
	o.sampled++
	o.mu.Unlock()
	o.count(metricSampled)

	event := models.Event{
		Type:      eventType,
		Data:      data,
		Timestamp: o.now(),
	}
	for _, opt := range opts {
		opt(&event)
	}

	o.mu.Lock()
	if o.queue.full() {
		o.dropped++
		if !o.dropOnFull {
			o.mu.Unlock()
			o.count(metricDropped)
			if o.throttle.Allow() {
				o.logger.Warn("Event queue full, rejecting event", zap.String("type", eventType))
			}
			return false
		}
		// Evict the oldest to make room, then insert.
		o.queue.pop()
		o.queue.push(event)
		o.mu.Unlock()
		o.count(metricDropped)
		o.count(metricAccepted)
		if o.throttle.Allow() {
			o.logger.Warn("Event queue full, dropping oldest", zap.String("type", eventType))
		}
		return true
	}
	o.queue.push(event)
	o.mu.Unlock()

	o.count(metricAccepted)
	return true
}

// RegisterHandler routes events of the given type to handler. Events of
// unregistered types go to a default debug-log sink.
func (o *Observer) RegisterHandler(eventType string, handler Handler) {
	o.handlerMu.Lock()
	o.handlers[eventType] = handler
	o.handlerMu.Unlock()
}

// Start spawns the dispatch worker. No-op when already running.
func (o *Observer) Start() {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.done = make(chan struct{})
	stopCh, done := o.stopCh, o.done
	o.mu.Unlock()

	go o.worker(stopCh, done)
	o.logger.Info("Observer started", zap.Int("queue_capacity", o.queue.capacity()))
}

// Stop flips the running flag and waits up to timeout for the worker to
// exit. Events still queued are discarded, not flushed. A handler hung
// inside the worker leaves it outstanding; Stop then returns an error once
// the timeout elapses.
func (o *Observer) Stop(timeout time.Duration) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.stopCh)
	done := o.done
	o.mu.Unlock()

	select {
	case <-done:
		o.logger.Info("Observer stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("observer worker did not exit within %s", timeout)
	}
}

// Running reports whether the dispatch worker is active.
func (o *Observer) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Observer) worker(stopCh, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		o.mu.Lock()
		event, ok := o.queue.pop()
		o.mu.Unlock()

		if !ok {
			select {
			case <-stopCh:
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		o.dispatch(event)
	}
}

// dispatch invokes the resolved handler. A handler failure is counted and
// logged but never aborts the worker loop.
func (o *Observer) dispatch(event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			o.recordError(fmt.Errorf("handler %s: %v", event.Type, r))
		}
	}()

	o.resolveHandler(event.Type)(event)

	o.mu.Lock()
	o.processed++
	o.mu.Unlock()
	o.count(metricProcessed)
}

func (o *Observer) resolveHandler(eventType string) Handler {
	o.handlerMu.RLock()
	h, ok := o.handlers[eventType]
	o.handlerMu.RUnlock()
	if ok {
		return h
	}
	return o.defaultHandler
}

func (o *Observer) defaultHandler(e models.Event) {
	o.logger.Debug("Unhandled event",
		zap.String("type", e.Type),
		zap.Time("timestamp", e.Timestamp))
}

// Stats returns a point-in-time snapshot of the flow counters and queue
// state.
func (o *Observer) Stats() models.ObserverStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	size := o.queue.len()
	capacity := o.queue.capacity()
	stats := models.ObserverStats{
		Received:      o.received,
		Sampled:       o.sampled,
		Dropped:       o.dropped,
		Processed:     o.processed,
		Errors:        o.errors,
		QueueSize:     size,
		QueueCapacity: capacity,
		Running:       o.running,
		LastError:     o.lastError,
	}
	if capacity > 0 {
		stats.QueueUtilization = float64(size) / float64(capacity)
	}
	return stats
}

// ResetStats zeroes the flow counters. Queue contents and the running flag
// are unaffected.
func (o *Observer) ResetStats() {
	o.mu.Lock()
	o.received, o.sampled, o.dropped, o.processed, o.errors = 0, 0, 0, 0, 0
	o.lastError = ""
	o.mu.Unlock()
}

func (o *Observer) recordError(err error) {
	o.mu.Lock()
	o.errors++
	o.lastError = err.Error()
	o.mu.Unlock()
	o.count(metricErrors)

	if o.throttle.Allow() {
		o.logger.Error("Observer error", zap.Error(err))
	}
}

func (o *Observer) count(name string) {
	if o.collector != nil {
		o.collector.Increment(name, 1)
	}
}
