package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/metrics"
)

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event) bool
}

type DispatcherConfig struct {
	QueueSize      int
	Workers        int
	MaxRetries     int
	RetryBackoff   time.Duration
	AttemptTimeout time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      1024,
		Workers:        2,
		MaxRetries:     3,
		RetryBackoff:   100 * time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	}
}

// Dispatcher decouples event production from delivery with a bounded queue
// and a fixed worker pool. A full queue drops the event; a failing sink is
// retried MaxRetries times with linear backoff, then the event is dropped.
type Dispatcher struct {
	sink   Sink
	cfg    DispatcherConfig
	queue  chan Event
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(sink Sink, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sink:   sink,
		cfg:    cfg,
		queue:  make(chan Event, cfg.QueueSize),
		logger: zap.L().With(zap.String("component", "EventDispatcher")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("Event dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
	)
}

// Publish enqueues e and reports whether it was accepted. It never blocks.
func (d *Dispatcher) Publish(e Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.EventsDroppedTotal.WithLabelValues("closed").Inc()
		return false
	}

	select {
	case d.queue <- e:
		metrics.EventQueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		metrics.EventsDroppedTotal.WithLabelValues("queue_full").Inc()
		d.logger.Warn("Event queue full, dropping event",
			zap.String("type", string(e.Type)),
			zap.String("code", e.Code),
		)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// If ctx ends first, in-flight deliveries are abandoned and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("Event dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Event dispatcher shutdown timed out", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for e := range d.queue {
		metrics.EventQueueDepth.Set(float64(len(d.queue)))
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * d.cfg.RetryBackoff):
			case <-d.ctx.Done():
				d.drop(e, "shutdown", err)
				return
			}
		}

		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.AttemptTimeout)
		err = d.sink.Publish(ctx, e)
		cancel()
		if err == nil {
			metrics.EventsPublishedTotal.WithLabelValues(string(e.Type)).Inc()
			return
		}
		d.logger.Debug("Event delivery failed",
			zap.String("type", string(e.Type)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	d.drop(e, "delivery_failed", err)
}

func (d *Dispatcher) drop(e Event, reason string, err error) {
	metrics.EventsDroppedTotal.WithLabelValues(reason).Inc()
	d.logger.Warn("Dropping event",
		zap.String("type", string(e.Type)),
		zap.String("code", e.Code),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
