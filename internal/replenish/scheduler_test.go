package replenish

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"steward/pkg/logging"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) Run(context.Context) (*Summary, error) {
	r.calls.Add(1)
	if r.err != nil {
		return newSummary(), r.err
	}
	return newSummary(), nil
}

func TestSchedulerRunsOnInterval(t *testing.T) {
	runner := &countingRunner{err: errors.New("scan failed")}
	s := NewScheduler(runner, 5*time.Millisecond, logging.NewTestLogger())
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for runner.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler ran %d times before deadline", runner.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	after := runner.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if runner.calls.Load() != after {
		t.Fatal("scheduler kept running after Stop")
	}
	// Stop is idempotent.
	s.Stop()
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(&countingRunner{}, time.Hour, logging.NewTestLogger())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(&countingRunner{}, time.Hour, logging.NewTestLogger())
	s.Stop()
}
