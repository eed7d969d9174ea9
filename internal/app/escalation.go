package service

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/okian/repairflow/internal/adapters/repository"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/logger"
	"github.com/okian/repairflow/pkg/metrics"
)

// Sweep fires due escalation levels on every open job and returns how many
// jobs escalated. Jobs are checked on their own shards.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if !s.started.Load() {
		return 0, ErrNotStarted
	}
	jobs, err := s.store.ListJobs(ctx, repository.JobFilter{OpenOnly: true})
	if err != nil {
		return 0, err
	}
	now := s.now()
	escalated := 0
	var errs []error
	for _, job := range jobs {
		if len(s.scheduler.Due(job, now)) == 0 {
			continue
		}
		if _, err := s.submit(ctx, model.CheckEscalationCommand{JobID: job.ID, Now: now}); err != nil {
			if ctx.Err() != nil {
				return escalated, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		escalated++
	}
	return escalated, errors.Join(errs...)
}

// sweepLoop runs Sweep on an interval and refreshes process gauges at the
// metrics refresh interval.
func (s *Service) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	gauges := time.NewTicker(metrics.RefreshInterval())
	defer gauges.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gauges.C:
			updateSystemMetrics()
		case <-ticker.C:
			start := time.Now()
			n, err := s.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				metrics.RecordErrorByComponent("escalation", "sweep_failed")
				s.logger.Error(ctx, "escalation sweep failed", logger.Error(err))
			}
			if n > 0 {
				s.logger.Info(ctx, "escalation sweep",
					logger.Int("escalated", n),
					logger.Duration("took", time.Since(start)),
				)
			}
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
