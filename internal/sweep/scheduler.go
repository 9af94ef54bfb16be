package sweep

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler runs all three passes on a fixed interval until its context ends.
type Scheduler struct {
	runner   *Runner
	interval time.Duration
	log      logrus.FieldLogger
}

func NewScheduler(runner *Runner, interval time.Duration, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{runner: runner, interval: interval, log: log}
}

// Run blocks until ctx is cancelled. A non-positive interval disables it.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("Sweep scheduler disabled.")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.runner.RunEscapes(ctx); err != nil {
		s.log.WithError(err).Error("Scheduled escape sweep failed.")
	}
	if _, err := s.runner.RunAnomalies(ctx, false); err != nil {
		s.log.WithError(err).Error("Scheduled anomaly sweep failed.")
	}
	if _, err := s.runner.RunRisk(ctx); err != nil {
		s.log.WithError(err).Error("Scheduled risk sweep failed.")
	}
}
