package prometheus

import (
	"time"

	"github.com/a3emond/FortisBankSystem/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	operations      *prometheus.CounterVec
	operationErrors *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec

	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	queueDepth    prometheus.Gauge
	droppedEvents prometheus.Counter
	deliveries    *prometheus.CounterVec
	deliveryTime  *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	return &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of ledger operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Total number of ledger operations that did not complete",
			},
			[]string{"operation"},
		),
		operationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Ledger operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"operation"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per event sink",
			},
			[]string{"sink"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state per event sink (0=closed, 1=open, 2=half-open)",
			},
			[]string{"sink"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_queue_depth",
				Help:      "Current number of events waiting for delivery",
			},
		),
		droppedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped because the queue was full",
			},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_deliveries_total",
				Help:      "Total number of event deliveries per sink and status",
			},
			[]string{"sink", "status"},
		),
		deliveryTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_delivery_duration_seconds",
				Help:      "Event delivery latency per sink",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"sink"},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (c *Collector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.operations,
		c.operationErrors,
		c.operationTime,
		c.circuitOpens,
		c.circuitState,
		c.queueDepth,
		c.droppedEvents,
		c.deliveries,
		c.deliveryTime,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordOperation records a ledger operation.
func (c *Collector) RecordOperation(operation, outcome string, duration time.Duration) {
	c.operations.WithLabelValues(operation, outcome).Inc()
	if outcome != "OK" {
		c.operationErrors.WithLabelValues(operation).Inc()
	}
	c.operationTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCircuitState records the current circuit breaker state.
func (c *Collector) RecordCircuitState(sink string, state metrics.CircuitState) {
	c.circuitState.WithLabelValues(sink).Set(float64(state))
	if state == metrics.CircuitOpen {
		c.circuitOpens.WithLabelValues(sink).Inc()
	}
}

// RecordQueueDepth records the current dispatcher queue depth.
func (c *Collector) RecordQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordEventDropped records a dropped event.
func (c *Collector) RecordEventDropped() {
	c.droppedEvents.Inc()
}

// RecordEventDelivery records one delivery attempt to a sink.
func (c *Collector) RecordEventDelivery(sink string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	c.deliveries.WithLabelValues(sink, status).Inc()
	c.deliveryTime.WithLabelValues(sink).Observe(duration.Seconds())
}
