package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/a3emond/FortisBankSystem/internal/domain"
	"github.com/a3emond/FortisBankSystem/internal/metrics"
)

var (
	// ErrQueueFull is returned when an event is dropped due to backpressure.
	ErrQueueFull = errors.New("events: dispatcher queue is full")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("events: dispatcher is closed")
)

// DispatcherConfig configures the dispatcher behavior.
type DispatcherConfig struct {
	// QueueSize is the bounded queue size (default: 1024)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is the max time to wait if the queue is full.
	// Zero or less drops immediately.
	MaxWaitTime time.Duration

	// MetricsInterval is how often the queue depth is reported (default: 5s)
	MetricsInterval time.Duration
}

// DefaultDispatcherConfig returns the dispatcher settings used by the server.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:       1024,
		Workers:         2,
		MaxWaitTime:     10 * time.Millisecond,
		MetricsInterval: 5 * time.Second,
	}
}

// Dispatcher implements domain.EventPublisher. Events are queued without
// blocking the ledger and delivered to every sink by a worker pool.
type Dispatcher struct {
	sinks   []Sink
	queue   chan TransactionEvent
	config  DispatcherConfig
	metrics metrics.Collector
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	// Statistics (accessed atomically)
	published atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// DispatcherStats is a snapshot of dispatcher counters.
type DispatcherStats struct {
	QueueDepth int
	Published  int64
	Dropped    int64
	Delivered  int64
	Failed     int64
}

// NewDispatcher starts a dispatcher delivering to sinks. It must be closed
// with Close.
func NewDispatcher(cfg DispatcherConfig, collector metrics.Collector, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 5 * time.Second
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		sinks:         sinks,
		queue:         make(chan TransactionEvent, cfg.QueueSize),
		config:        cfg,
		metrics:       collector,
		logger:        logger.Named("events"),
		metricsTicker: time.NewTicker(cfg.MetricsInterval),
		metricsStop:   make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	go d.reportMetrics()

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	d.logger.Info("event dispatcher started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.Workers),
		zap.Strings("sinks", names),
	)
	return d
}

// PublishTransaction enqueues an event for txn. If the queue is full it
// waits up to MaxWaitTime and then drops the event with ErrQueueFull.
func (d *Dispatcher) PublishTransaction(ctx context.Context, txn *domain.Transaction) error {
	return d.Publish(ctx, NewTransactionEvent(txn))
}

// Publish enqueues a prepared event.
func (d *Dispatcher) Publish(ctx context.Context, event TransactionEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- event:
		d.published.Add(1)
		return nil
	default:
	}
	if d.config.MaxWaitTime <= 0 {
		return d.drop(event)
	}

	timer := time.NewTimer(d.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case d.queue <- event:
		d.published.Add(1)
		return nil
	case <-timer.C:
		return d.drop(event)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) drop(event TransactionEvent) error {
	d.dropped.Add(1)
	d.metrics.RecordEventDropped()
	d.logger.Warn("event dropped, queue is full",
		zap.String("event_id", event.EventID),
		zap.String("transaction_id", event.TransactionID),
	)
	return ErrQueueFull
}

// worker delivers events until the queue is closed and drained.
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event TransactionEvent) {
	for _, sink := range d.sinks {
		start := time.Now()
		err := sink.Send(context.Background(), event)
		d.metrics.RecordEventDelivery(sink.Name(), err == nil, time.Since(start))

		if err != nil {
			d.failed.Add(1)
			d.logger.Error("event delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("event_id", event.EventID),
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err),
			)
			continue
		}
		d.delivered.Add(1)
	}
}

// reportMetrics periodically reports queue depth.
func (d *Dispatcher) reportMetrics() {
	for {
		select {
		case <-d.metricsTicker.C:
			d.metrics.RecordQueueDepth(len(d.queue))
		case <-d.metricsStop:
			return
		}
	}
}

// Close stops accepting events and waits until queued events are
// delivered or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	close(d.metricsStop)
	d.metricsTicker.Stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.metrics.RecordQueueDepth(0)
		d.logger.Info("event dispatcher stopped",
			zap.Int64("delivered", d.delivered.Load()),
			zap.Int64("failed", d.failed.Load()),
			zap.Int64("dropped", d.dropped.Load()),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("event dispatcher stopped before the queue was drained",
			zap.Int("remaining", len(d.queue)),
		)
		return ctx.Err()
	}
}

// Stats returns current statistics about the dispatcher.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		QueueDepth: len(d.queue),
		Published:  d.published.Load(),
		Dropped:    d.dropped.Load(),
		Delivered:  d.delivered.Load(),
		Failed:     d.failed.Load(),
	}
}
