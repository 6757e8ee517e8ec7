package memory

import (
	"sync"
	"time"

	"github.com/a3emond/FortisBankSystem/internal/metrics"
)

// Collector implements metrics.Collector for in-memory testing.
type Collector struct {
	mu sync.RWMutex

	operations    map[string]map[string]int64
	circuitStates map[string]metrics.CircuitState
	circuitOpens  map[string]int64
	deliveries    map[string]int64
	failures      map[string]int64
	queueDepth    int
	dropped       int64
}

// NewCollector creates a new in-memory metrics collector.
func NewCollector() *Collector {
	return &Collector{
		operations:    make(map[string]map[string]int64),
		circuitStates: make(map[string]metrics.CircuitState),
		circuitOpens:  make(map[string]int64),
		deliveries:    make(map[string]int64),
		failures:      make(map[string]int64),
	}
}

// RecordOperation records a ledger operation.
func (c *Collector) RecordOperation(operation, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byOutcome, ok := c.operations[operation]
	if !ok {
		byOutcome = make(map[string]int64)
		c.operations[operation] = byOutcome
	}
	byOutcome[outcome]++
}

// RecordCircuitState records the current circuit breaker state.
func (c *Collector) RecordCircuitState(sink string, state metrics.CircuitState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.circuitStates[sink] = state
	if state == metrics.CircuitOpen {
		c.circuitOpens[sink]++
	}
}

// RecordQueueDepth records the current dispatcher queue depth.
func (c *Collector) RecordQueueDepth(depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth = depth
}

// RecordEventDropped records a dropped event.
func (c *Collector) RecordEventDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
}

// RecordEventDelivery records one delivery attempt to a sink.
func (c *Collector) RecordEventDelivery(sink string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if success {
		c.deliveries[sink]++
	} else {
		c.failures[sink]++
	}
}

// Operations returns how many times operation finished with outcome.
func (c *Collector) Operations(operation, outcome string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.operations[operation][outcome]
}

// CircuitState returns the last recorded state for sink.
func (c *Collector) CircuitState(sink string) metrics.CircuitState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.circuitStates[sink]
}

// CircuitOpens returns how many times the breaker for sink opened.
func (c *Collector) CircuitOpens(sink string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.circuitOpens[sink]
}

// Deliveries returns successful and failed delivery counts for sink.
func (c *Collector) Deliveries(sink string) (success, failed int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deliveries[sink], c.failures[sink]
}

// Dropped returns the number of dropped events.
func (c *Collector) Dropped() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// QueueDepth returns the last recorded queue depth.
func (c *Collector) QueueDepth() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queueDepth
}
