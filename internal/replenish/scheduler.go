package replenish

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"steward/pkg/logging"
)

// Runner is anything that performs one replenish pass.
type Runner interface {
	Run(ctx context.Context) (*Summary, error)
}

// Scheduler runs a Runner on a fixed interval inside the server process. It
// is safe next to an external cron: overlapping runs are serialized per pair
// by the attempts index, not by the scheduler.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   logging.Logger

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func NewScheduler(runner Runner, interval time.Duration, logger logging.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the ticker loop and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.WithField("interval", s.interval.String()).Info("Starting auto-replenish scheduler")
	go s.loop(ctx)
}

// Stop ends the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping auto-replenish scheduler")
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			summary, err := s.runner.Run(ctx)
			if err != nil {
				s.logger.WithError(err).Error("Scheduled auto-replenish run failed")
				continue
			}
			s.logger.WithFields(logging.Fields{
				"processed":  summary.Processed,
				"successful": summary.Successful,
				"failed":     summary.Failed,
				"skipped":    summary.Skipped,
			}).Debug("Scheduled auto-replenish run complete")
		}
	}
}
