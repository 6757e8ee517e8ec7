package events

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/a3emond/FortisBankSystem/internal/metrics"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a send.
	ErrCircuitOpen = errors.New("events: circuit breaker is open")
	// ErrSinkTimeout is returned when a send exceeds the breaker timeout.
	ErrSinkTimeout = errors.New("events: sink timed out")
)

// BreakerConfig configures the circuit breaker around a sink.
type BreakerConfig struct {
	// Timeout bounds a single send. Zero disables it.
	Timeout time.Duration
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval is the closed-state period after which counts are cleared.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns the breaker settings used by the server.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Timeout:             5 * time.Second,
		MaxRequests:         1,
		Interval:            60 * time.Second,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerSink wraps a Sink with a circuit breaker and a send timeout.
type BreakerSink struct {
	sink    Sink
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *zap.Logger
}

// NewBreakerSink wraps sink. A nil collector or logger disables that concern.
func NewBreakerSink(sink Sink, cfg BreakerConfig, collector metrics.Collector, logger *zap.Logger) *BreakerSink {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	logger = logger.Named("breaker").Named(sink.Name())

	b := &BreakerSink{
		sink:    sink,
		timeout: cfg.Timeout,
		metrics: collector,
		logger:  logger,
	}

	settings := gobreaker.Settings{
		Name:        sink.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("sink", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			b.metrics.RecordCircuitState(name, state)
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)

	return b
}

// Name returns the name of the wrapped sink.
func (b *BreakerSink) Name() string {
	return b.sink.Name()
}

// State returns the current breaker state.
func (b *BreakerSink) State() gobreaker.State {
	return b.cb.State()
}

// Send delivers event through the breaker.
func (b *BreakerSink) Send(ctx context.Context, event TransactionEvent) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.sink.Send(ctx, event)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("send timeout",
			zap.String("event_id", event.EventID),
			zap.Duration("timeout", b.timeout),
		)
		return ErrSinkTimeout
	}
	return err
}
