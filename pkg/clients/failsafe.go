package clients

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"steward/pkg/logging"
)

// ErrCircuitOpen is returned without calling the upstream while the breaker is open.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ExecutorConfig configures retries plus an optional circuit breaker around
// calls to one upstream.
type ExecutorConfig struct {
	// Name identifies the upstream in logs
	Name string

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// ShouldRetry decides whether an error is transient. Nil errors are never retried.
	ShouldRetry func(err error) bool

	// Circuit breaker; disabled when BreakerMinRequests is 0.
	BreakerMinRequests uint
	BreakerFailures    uint
	BreakerDelay       time.Duration

	Logger logging.Logger
}

// DefaultExecutorConfig returns sensible defaults
func DefaultExecutorConfig(name string) ExecutorConfig {
	return ExecutorConfig{
		Name:               name,
		MaxRetries:         2,
		BaseDelay:          200 * time.Millisecond,
		MaxDelay:           2 * time.Second,
		BreakerMinRequests: 10,
		BreakerFailures:    5,
		BreakerDelay:       30 * time.Second,
	}
}

func normalizeExecutorConfig(cfg ExecutorConfig) ExecutorConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = func(error) bool { return true }
	}
	if cfg.BreakerFailures > cfg.BreakerMinRequests {
		cfg.BreakerFailures = cfg.BreakerMinRequests
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 30 * time.Second
	}
	return cfg
}

// Executor runs calls to one upstream through retry and circuit breaker policies.
type Executor[T any] struct {
	name     string
	executor failsafe.Executor[T]
	breaker  circuitbreaker.CircuitBreaker[T]
}

// NewExecutor builds an Executor from cfg.
func NewExecutor[T any](cfg ExecutorConfig) *Executor[T] {
	cfg = normalizeExecutorConfig(cfg)

	retry := retrypolicy.NewBuilder[T]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ T, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && cfg.ShouldRetry(err)
		}).
		ReturnLastFailure().
		Build()

	e := &Executor[T]{name: cfg.Name}
	if cfg.BreakerMinRequests == 0 {
		e.executor = failsafe.With[T](retry)
		return e
	}

	builder := circuitbreaker.NewBuilder[T]().
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerMinRequests).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(func(_ T, err error) bool {
			return err != nil && cfg.ShouldRetry(err)
		})
	if cfg.Logger != nil {
		builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			cfg.Logger.WithFields(logging.Fields{
				"circuit_breaker": cfg.Name,
				"from_state":      convertState(event.OldState).String(),
				"to_state":        convertState(event.NewState).String(),
			}).Warn("circuit breaker state change")
		})
	}
	e.breaker = builder.Build()
	// Breaker outermost so an open circuit short-circuits before any retry.
	e.executor = failsafe.With[T](e.breaker, retry)
	return e
}

// Get runs fn under the executor's policies.
func (e *Executor[T]) Get(ctx context.Context, fn func() (T, error)) (T, error) {
	return e.executor.WithContext(ctx).Get(fn)
}

// State reports the breaker state (closed when no breaker is configured).
func (e *Executor[T]) State() CircuitBreakerState {
	if e.breaker == nil {
		return StateClosed
	}
	return convertState(e.breaker.State())
}

func convertState(state circuitbreaker.State) CircuitBreakerState {
	switch state {
	case circuitbreaker.HalfOpenState:
		return StateHalfOpen
	case circuitbreaker.OpenState:
		return StateOpen
	default:
		return StateClosed
	}
}
