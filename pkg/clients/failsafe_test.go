package clients

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errTransient = errors.New("connection reset")

func TestExecutorRetriesTransientErrors(t *testing.T) {
	cfg := ExecutorConfig{
		Name:        "stripe",
		MaxRetries:  2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		ShouldRetry: func(err error) bool { return errors.Is(err, errTransient) },
	}
	exec := NewExecutor[string](cfg)

	var attempts int32
	got, err := exec.Get(context.Background(), func() (string, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return "", errTransient
		}
		return "pi_123", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if got != "pi_123" {
		t.Fatalf("unexpected result %q", got)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecutorDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := errors.New("card_declined")
	cfg := ExecutorConfig{
		MaxRetries:  3,
		BaseDelay:   time.Millisecond,
		ShouldRetry: func(err error) bool { return errors.Is(err, errTransient) },
	}
	exec := NewExecutor[string](cfg)

	var attempts int32
	_, err := exec.Get(context.Background(), func() (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "", permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestExecutorNegativeRetriesMeansSingleAttempt(t *testing.T) {
	exec := NewExecutor[int](ExecutorConfig{MaxRetries: -1})

	var attempts int32
	_, err := exec.Get(context.Background(), func() (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errTransient
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if attempts != 1 {
		t.Fatalf("expected one attempt, got %d", attempts)
	}
}

func TestExecutorBreakerOpensAfterFailures(t *testing.T) {
	cfg := ExecutorConfig{
		Name:               "stripe",
		MaxRetries:         0,
		BaseDelay:          time.Millisecond,
		BreakerMinRequests: 2,
		BreakerFailures:    2,
		BreakerDelay:       time.Minute,
	}
	exec := NewExecutor[int](cfg)

	for i := 0; i < 2; i++ {
		_, _ = exec.Get(context.Background(), func() (int, error) { return 0, errTransient })
	}
	if exec.State() != StateOpen {
		t.Fatalf("expected open breaker, got %s", exec.State())
	}

	var called bool
	_, err := exec.Get(context.Background(), func() (int, error) {
		called = true
		return 1, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("expected open breaker to short-circuit the call")
	}
}
